// Package commands implements the voltctl CLI: ad-hoc procedure invocation
// and cluster diagnostics over the client core.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/marmos91/voltclient/pkg/config"
	"github.com/marmos91/voltclient/pkg/volt"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"

	// Global flags.
	cfgFile   string
	flagHosts []string
	flagUser  string
	flagPass  string
	flagTimeo time.Duration
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "voltctl",
	Short: "voltctl - VoltDB cluster client",
	Long: `voltctl invokes stored procedures against a VoltDB cluster and inspects
cluster health, using the same connection pool the client library provides.

Use "voltctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/voltclient/config.yaml)")
	pf.StringSliceVar(&flagHosts, "host", nil, "seed host[:port], repeatable (default port 21212)")
	pf.StringVarP(&flagUser, "username", "u", "", "login username")
	pf.StringVarP(&flagPass, "password", "p", "", "login password (prompted when a username is set and this is empty)")
	pf.DurationVar(&flagTimeo, "timeout", 0, "per-call timeout (default from config)")

	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// loadConfig merges the config file with command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if len(flagHosts) > 0 {
		cfg.Hosts = flagHosts
	}
	if flagUser != "" {
		cfg.Username = flagUser
	}
	if flagPass != "" {
		cfg.Password = flagPass
	}
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("no hosts configured; pass --host or set hosts in the config file")
	}
	if cfg.Username != "" && cfg.Password == "" {
		prompt := promptui.Prompt{
			Label: fmt.Sprintf("Password for %s", cfg.Username),
			Mask:  '*',
		}
		pass, err := prompt.Run()
		if err != nil {
			return nil, fmt.Errorf("password prompt: %w", err)
		}
		cfg.Password = pass
	}
	return cfg, nil
}

// connect opens a client from the effective configuration.
func connect(ctx context.Context) (*volt.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	client, err := volt.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}

// callOptions translates global flags to per-call options.
func callOptions() []volt.CallOption {
	var opts []volt.CallOption
	if flagTimeo != 0 {
		opts = append(opts, volt.WithTimeout(flagTimeo))
	}
	return opts
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("voltctl %s (%s)\n", Version, Commit)
	},
}
