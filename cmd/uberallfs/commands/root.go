// Package commands implements the uberallfs CLI.
package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"golang.org/x/sys/unix"

	"github.com/uberallfs/uberallfs/internal/logger"
	"github.com/uberallfs/uberallfs/pkg/config"
	"github.com/uberallfs/uberallfs/pkg/identifier"
	"github.com/uberallfs/uberallfs/pkg/objectstore"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"

	// Global flags.
	cfgFile  string
	logLevel string

	// cfg is loaded before any command runs.
	cfg *config.Config
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "uberallfs",
	Short: "uberallfs - distributed filesystem on a content-addressed objectstore",
	Long: `uberallfs stores files and directories as objects named by 256-bit
identifiers in a flat sharded objectstore and serves them through a
permission-checking virtual filesystem layer.

Use "uberallfs [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		return logger.Init(logger.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: cfg.Logging.Output,
		})
	},
}

// Execute runs the CLI. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps an error to the process exit code: the raw OS error when
// one is available, the POSIX code of a store or identifier error (see
// objectstore.Errno), EXIT_FAILURE otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	logger.Error(err.Error())

	var storeErr *objectstore.StoreError
	var parseErr *identifier.ParseError
	var mismatch *identifier.TypeMismatchError
	var errno unix.Errno
	if errors.As(err, &storeErr) || errors.As(err, &parseErr) ||
		errors.As(err, &mismatch) || errors.As(err, &errno) {
		return int(objectstore.Errno(err))
	}
	return 1
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/uberallfs/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(objectstoreCmd)
	rootCmd.AddCommand(fuseCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
