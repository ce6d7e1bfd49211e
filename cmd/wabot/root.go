package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neboloop/wabot/internal/config"
	"github.com/neboloop/wabot/internal/defaults"
	"github.com/neboloop/wabot/internal/logging"
)

// SetupRootCmd configures the root command with all subcommands and flags.
// defaultConfig is the embedded etc/wabot.yaml.
func SetupRootCmd(defaultConfig []byte) *cobra.Command {
	embeddedConfig = defaultConfig

	rootCmd := &cobra.Command{
		Use:   "wabot",
		Short: "wabot - WhatsApp session daemon",
		Long: `wabot keeps a linked WhatsApp session open, answers chat commands,
delivers scheduled messages and serves a live web interface.

Just type 'wabot' to start the daemon.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: <data dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default: platform config directory, or WABOT_DATA_DIR)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(RunCmd())
	rootCmd.AddCommand(PairCmd())
	rootCmd.AddCommand(ScheduleCmd())
	rootCmd.AddCommand(TokenCmd())
	rootCmd.AddCommand(VersionCmd())

	return rootCmd
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	if dataDir != "" {
		if err := os.Setenv("WABOT_DATA_DIR", dataDir); err != nil {
			return err
		}
	}
	dir, err := defaults.EnsureDataDir()
	if err != nil {
		return fmt.Errorf("initialize data directory: %w", err)
	}
	paths = defaults.PathsFor(dir)

	path := cfgFile
	if path == "" {
		path = paths.Config
	}
	c, err := config.Load(embeddedConfig, path)
	if err != nil {
		return err
	}
	if verbose {
		c.Log.Level = "debug"
	}
	cfg = c

	logging.Configure(logging.Options{Level: c.Log.Level, Format: c.Log.Format})
	logging.Debugf("[cli] Data directory %s, config %s", paths.Dir, path)
	return nil
}
