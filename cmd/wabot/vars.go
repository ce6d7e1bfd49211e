package cli

import (
	"github.com/neboloop/wabot/internal/config"
	"github.com/neboloop/wabot/internal/defaults"
)

// Set at build time with -ldflags "-X github.com/neboloop/wabot/cmd/wabot.Version=..."
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Shared CLI flags (used across multiple command files)
var (
	cfgFile string
	dataDir string
	verbose bool
)

// Loaded by the root command before any subcommand runs.
var (
	embeddedConfig []byte
	cfg            config.Config
	paths          defaults.Paths
)
