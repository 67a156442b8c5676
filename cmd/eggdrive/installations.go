package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bgricker/eggdrive/internal/config"
	"github.com/bgricker/eggdrive/internal/install"
	"github.com/bgricker/eggdrive/internal/output"
)

func newInstallationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "installations",
		Short: "Manage the eggPlant installation registry",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List configured installations",
		Args:  cobra.NoArgs,
		RunE:  runInstallationsList,
	}
	list.Flags().String("node", "", "show homes as translated for this node")

	cmd.AddCommand(list)
	cmd.AddCommand(&cobra.Command{
		Use:   "add NAME HOME",
		Short: "Add or replace an installation",
		Args:  cobra.ExactArgs(2),
		RunE:  runInstallationsAdd,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove NAME",
		Short: "Remove an installation",
		Args:  cobra.ExactArgs(1),
		RunE:  runInstallationsRemove,
	})
	return cmd
}

func runInstallationsList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	file, err := install.Load(cfg.InstallationsFile)
	if err != nil {
		return err
	}

	if strings.EqualFold(cfg.Format, config.FormatJSON) {
		installs := file.Installations
		if installs == nil {
			installs = []install.Installation{}
		}
		return output.NewJSON(cmd.OutOrStdout()).RenderValue(installs)
	}
	return output.NewPretty(cmd.OutOrStdout()).RenderInstallations(file.Installations, file.Node(cfg.Node))
}

func runInstallationsAdd(cmd *cobra.Command, argv []string) error {
	name, home := strings.TrimSpace(argv[0]), strings.TrimSpace(argv[1])
	if name == "" {
		return fmt.Errorf("installation name must not be blank")
	}
	return updateInstallations(cmd, func(f *install.File) error {
		f.Put(install.Installation{Name: name, Home: home})
		fmt.Fprintf(cmd.OutOrStdout(), "Installation %s set to %s\n", name, home)
		return nil
	})
}

func runInstallationsRemove(cmd *cobra.Command, argv []string) error {
	return updateInstallations(cmd, func(f *install.File) error {
		if err := f.Remove(argv[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Installation %s removed\n", argv[0])
		return nil
	})
}

func updateInstallations(cmd *cobra.Command, fn func(*install.File) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	file, err := install.Load(cfg.InstallationsFile)
	if err != nil {
		return err
	}
	if err := fn(&file); err != nil {
		return err
	}
	return install.Save(cfg.InstallationsFile, file)
}
