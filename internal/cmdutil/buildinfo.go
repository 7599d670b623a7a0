// Package cmdutil holds the bits cmd/storaged and cmd/fdfsctl share:
// build-version reporting and a version subcommand both binaries
// attach under Cobra.
package cmdutil

import "github.com/spf13/cobra"

// GitInfo is set at link time via
//
//	-ldflags="-X github.com/happyfish100/fastdfs-sub003/internal/cmdutil.GitInfo=<hash>"
var GitInfo string

// Version is a string like "6.12.0", matching upstream FastDFS's own
// version numbering, if set at link time.
var Version string

// Summary returns the version and/or git hash of this binary, or
// "unknown" when neither was set at link time.
func Summary() string {
	switch {
	case Version != "" && GitInfo != "":
		return Version + ", " + GitInfo
	case GitInfo != "":
		return GitInfo
	case Version != "":
		return Version
	default:
		return "unknown"
	}
}

// VersionCommand returns a "version" subcommand printing Summary().
func VersionCommand(binaryName string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the " + binaryName + " build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(binaryName + " " + Summary())
			return nil
		},
	}
}
