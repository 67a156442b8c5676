package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/bgricker/eggdrive/internal/config"
	"github.com/bgricker/eggdrive/internal/exitcodes"
	"github.com/bgricker/eggdrive/internal/output"
	"github.com/bgricker/eggdrive/internal/report"
)

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Render the build report accumulated in the workspace",
		Args:  cobra.NoArgs,
		RunE:  runReport,
	}
}

func runReport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rep, err := report.NewFileHolder(cfg.Workspace).Get()
	if err != nil {
		return err
	}
	if rep == nil {
		rep = report.New("")
	}

	if strings.EqualFold(cfg.Format, config.FormatJSON) {
		err = output.NewJSON(cmd.OutOrStdout()).Render(output.Report{
			BuildURL: rep.BuildURL,
			Verdict:  rep.Verdict(),
			Records:  rep.Records,
			Summary:  rep.Summary(),
		})
	} else {
		renderer := output.NewPretty(cmd.OutOrStdout())
		if err = renderer.RenderReport(rep); err == nil {
			err = renderer.RenderFailures(rep)
		}
	}
	if err != nil {
		return err
	}
	if !rep.Verdict() {
		return &exitError{code: exitcodes.TestFailure}
	}
	return nil
}
