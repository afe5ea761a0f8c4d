package config

import (
	"flag"
	"os"
	"time"

	"github.com/saytro/saytro/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-u string   base URL of the hosted backend (default from Config)
//	-k string   public API key
//	-r int      directory refresh interval in seconds (default from Config)
//
// Note: The function filters os.Args to only include the flags it knows
// about, using flagx.FilterArgs, to avoid interference with other
// components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-u", "-k", "-r"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.BackendURL, "u", cfg.BackendURL, "base URL of the hosted backend")
	fs.StringVar(&cfg.AnonKey, "k", cfg.AnonKey, "public API key")
	refreshInterval := fs.Int("r", int(cfg.RefreshInterval.Seconds()), "directory refresh interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.RefreshInterval = time.Duration(*refreshInterval) * time.Second
}
