// Command fdfsctl is an operator CLI over pkg/fdfsclient: upload,
// download, delete, metadata and query-info against one storage node.
// One Cobra subcommand per client verb.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyfish100/fastdfs-sub003/internal/cmdutil"
	"github.com/happyfish100/fastdfs-sub003/pkg/config"
	"github.com/happyfish100/fastdfs-sub003/pkg/fdfsclient"
	"github.com/happyfish100/fastdfs-sub003/pkg/fileid"
	"github.com/happyfish100/fastdfs-sub003/pkg/metadata"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var configPath string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "fdfsctl",
		Short: "Operator CLI for a FastDFS-style storage node",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "fdfsctl.yaml", "path to the fdfsctl YAML config file")
	root.AddCommand(
		newUploadCommand(),
		newDownloadCommand(),
		newDeleteCommand(),
		newGetMetadataCommand(),
		newSetMetadataCommand(),
		newQueryCommand(),
		cmdutil.VersionCommand("fdfsctl"),
	)
	return root
}

func loadClient() (*fdfsclient.Client, config.ClientConfig, error) {
	var cfg config.ClientConfig
	if err := config.Load(configPath, &cfg); err != nil {
		return nil, cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfg, err
	}
	c := fdfsclient.New(fdfsclient.Config{
		DialTimeout:    time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		MaxConnections: cfg.MaxConnections,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   time.Duration(cfg.RetryBackoffMillis) * time.Millisecond,
	})
	return c, cfg, nil
}

// callContext bounds a single request/response round trip by
// cfg.NetworkTimeoutSeconds. Zero leaves the background context
// undeadlined.
func callContext(cfg config.ClientConfig) (context.Context, context.CancelFunc) {
	if cfg.NetworkTimeoutSeconds <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), time.Duration(cfg.NetworkTimeoutSeconds)*time.Second)
}

func newUploadCommand() *cobra.Command {
	var storePathIndex int
	var ext string
	var appender bool

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c, cfg, err := loadClient()
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, cancel := callContext(cfg)
			defer cancel()
			id, err := c.Upload(ctx, cfg.StorageAddress, byte(storePathIndex), ext, content, appender)
			if err != nil {
				return err
			}
			cmd.Println(id.String())
			return nil
		},
	}
	cmd.Flags().IntVar(&storePathIndex, "store-path", 0xFF, "store path index (0xFF lets the storage node choose)")
	cmd.Flags().StringVar(&ext, "ext", "", "file extension, without the leading dot")
	cmd.Flags().BoolVar(&appender, "appender", false, "upload as an appender file")
	return cmd
}

func newDownloadCommand() *cobra.Command {
	var offset, length int64

	cmd := &cobra.Command{
		Use:   "download <file-id> <out-file>",
		Short: "Download a file's content",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := fileid.Parse(args[0])
			if err != nil {
				return err
			}
			c, cfg, err := loadClient()
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, cancel := callContext(cfg)
			defer cancel()
			content, err := c.DownloadRange(ctx, cfg.StorageAddress, id, uint64(offset), uint64(length))
			if err != nil {
				return err
			}
			return os.WriteFile(args[1], content, 0o644)
		},
	}
	cmd.Flags().Int64Var(&offset, "offset", 0, "start offset")
	cmd.Flags().Int64Var(&length, "length", 0, "byte count to download, 0 meaning to end of file")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <file-id>",
		Short: "Delete a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := fileid.Parse(args[0])
			if err != nil {
				return err
			}
			c, cfg, err := loadClient()
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, cancel := callContext(cfg)
			defer cancel()
			return c.Delete(ctx, cfg.StorageAddress, id)
		},
	}
}

func newGetMetadataCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-metadata <file-id>",
		Short: "Print a file's user metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := fileid.Parse(args[0])
			if err != nil {
				return err
			}
			c, cfg, err := loadClient()
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, cancel := callContext(cfg)
			defer cancel()
			set, err := c.GetMetadata(ctx, cfg.StorageAddress, id)
			if err != nil {
				return err
			}
			for k, v := range set {
				cmd.Printf("%s=%s\n", k, v)
			}
			return nil
		},
	}
}

func newSetMetadataCommand() *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "set-metadata <file-id> <key=value>...",
		Short: "Set a file's user metadata",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := fileid.Parse(args[0])
			if err != nil {
				return err
			}
			set := make(metadata.Set, len(args)-1)
			for _, kv := range args[1:] {
				k, v, ok := splitKV(kv)
				if !ok {
					return fmt.Errorf("invalid key=value pair %q", kv)
				}
				set[k] = v
			}
			c, cfg, err := loadClient()
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, cancel := callContext(cfg)
			defer cancel()
			return c.SetMetadata(ctx, cfg.StorageAddress, id, set, overwrite)
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace metadata wholesale instead of merging")
	return cmd
}

func newQueryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "query <file-id>",
		Short: "Print a file's server-owned attributes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := fileid.Parse(args[0])
			if err != nil {
				return err
			}
			c, cfg, err := loadClient()
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, cancel := callContext(cfg)
			defer cancel()
			info, err := c.QueryFileInfo(ctx, cfg.StorageAddress, id)
			if err != nil {
				return err
			}
			cmd.Printf("size=%d crc32=%d create_time=%s source_ip=%s\n",
				info.FileSize, info.CRC32, time.Unix(int64(info.CreateUnix), 0).Format(time.RFC3339), info.SourceIPAddr)
			return nil
		},
	}
}

func splitKV(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
