package version

import (
	"fmt"

	"github.com/spf13/cobra"
)

// AttachCobraVersionCommand adds a `version` subcommand and a --version flag to root.
func AttachCobraVersionCommand(root *cobra.Command) {
	root.Version = Short()
	root.SetVersionTemplate(Full() + "\n")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information.",
		Long:  "Print the packager version together with the commit hash and build timestamp injected via ldflags.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), Full())
		},
	})
}
