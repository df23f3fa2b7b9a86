package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/nativescan/internal/config"
)

// configCmd groups configuration helpers.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write a configuration file with all defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename := config.ConfigFileName + ".yaml"
		if len(args) == 1 {
			filename = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(filename); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", filename)
		}
		if err := config.GenerateDefaultConfigFile(filename); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", filename)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		GetConfigLoader().PrintConfigInfo(cmd.OutOrStdout())
		_, _ = fmt.Fprintln(cmd.OutOrStdout())
		return printYAML(cmd.OutOrStdout(), cfg)
	},
}

func printYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
}
