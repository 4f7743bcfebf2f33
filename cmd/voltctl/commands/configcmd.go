package commands

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/voltclient/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the voltctl configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if len(flagHosts) > 0 {
			cfg.Hosts = flagHosts
		}
		// Never echo credentials.
		cfg.Password = ""
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		cmd.Print(string(out))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultConfigPath()
		}
		cfg := config.Default()
		cfg.Hosts = []string{"localhost"}
		if err := config.Save(cfg, path); err != nil {
			return err
		}
		cmd.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
