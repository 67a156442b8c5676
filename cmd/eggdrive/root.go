package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "eggdrive",
		Short:         "Eggdrive runs eggPlant scripts as a build step and reports their results",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	persistent := cmd.PersistentFlags()
	persistent.String("config", "", "step configuration file (default <workspace>/.eggdrive.yml)")
	persistent.String("workspace", "", "build workspace (default current directory)")
	persistent.String("installations", "", "installation registry file")
	persistent.String("format", "pretty", "output format (pretty|json)")
	persistent.String("log-level", "", "diagnostic log level (debug|info|warn|error)")
	persistent.String("log-format", "", "diagnostic log format (text|json)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newInstallationsCmd())
	cmd.AddCommand(newReportCmd())

	return cmd
}
