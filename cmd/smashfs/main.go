// smashfs is the host-side companion of a Kicksmash board: it mounts
// local directories as Amiga volumes over the ROM-bus message channel.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kicksmash/smashfs/fs/config"
	"github.com/kicksmash/smashfs/fs/log"
)

var (
	flagVerbose  bool
	flagLogLevel string
	flagConfig   string
)

var root = &cobra.Command{
	Use:   "smashfs",
	Short: "Serve local directories as Amiga volumes over a Kicksmash link",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagVerbose {
			log.SetDebug()
			return nil
		}
		return log.SetLevel(flagLogLevel)
	},
	SilenceUsage: true,
}

func init() {
	addFlags(root.PersistentFlags())
}

func addFlags(flags *pflag.FlagSet) {
	flags.BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	flags.StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&flagConfig, "config", "", "config file (default ~/"+config.DefaultName+")")
}

func main() {
	setupServe(root)
	setupVersion(root)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges the config file with command line state.
func loadConfig() (*config.Config, error) {
	path, err := config.Path(flagConfig)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	// The file's log level applies unless a flag already chose one.
	if !flagVerbose && !root.PersistentFlags().Changed("log-level") {
		if err := log.SetLevel(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
