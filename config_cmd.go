package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rowmark/rowmark/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	if flagJSON {
		// Secrets carry json:"-" tags, so this is safe to paste anywhere.
		return printJSON(os.Stdout, resolvedCfg)
	}

	return config.RenderEffective(resolvedCfg, os.Stdout)
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Println(cliConfigPath())

			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file for errors",
		Long: `Parse and validate the config file, reporting every problem found in
one pass. Unknown keys are errors: a silently ignored typo in a pair
declaration would replicate the wrong columns.`,
		RunE: runConfigValidate,
	}
}

func runConfigValidate(_ *cobra.Command, _ []string) error {
	path := cliConfigPath()

	if _, err := config.Load(path); err != nil {
		return err
	}

	statusf(flagQuiet, "%s is valid\n", path)

	return nil
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long: `Write a commented starter config to the default location (or the
--config path). Refuses to overwrite an existing file.`,
		RunE: runConfigInit,
	}
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	path := cliConfigPath()

	if err := config.WriteDefault(path); err != nil {
		return err
	}

	statusf(flagQuiet, "Wrote %s\n", path)
	statusf(flagQuiet, "Add a [tables.<name>] section for each table pair to replicate.\n")

	return nil
}
