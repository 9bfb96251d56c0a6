package app

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

// gitVersion is set with -ldflags "-X .../cmd/transitlive/app.gitVersion=v1.2.3".
var gitVersion = ""

// Version returns the release version, falling back to the module version.
func Version() string {
	if gitVersion != "" {
		return gitVersion
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "devel"
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			table := uitable.New()
			table.AddRow("Version:", Version())
			table.AddRow("Go:", runtime.Version())
			table.AddRow("Platform:", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH))
			fmt.Fprintln(cmd.OutOrStdout(), table)
		},
	}
}
