package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// CLI flags
	configFilenameFlag string
	verbosityDebugFlag bool
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

var cmdRoot = &cobra.Command{
	Use:   "resource-interceptor",
	Short: "Cache-first or network-only proxy with versioned cache stores",
	Long: `
resource-interceptor sits in front of an origin and resolves every request
either from the network only, or from a versioned cache store first.

Core assets are stored when a version installs, and caches of other
versions are deleted when it activates.
`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
}

var cmdVersion = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	if version == "" {
		version = "DEV"
	}
	flags := cmdRoot.PersistentFlags()
	flags.StringVarP(&configFilenameFlag, "config", "c", "", "Path to config file")
	flags.BoolVarP(&verbosityDebugFlag, "verbose", "v", false, "Verbosity: debug logging")
	flags.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flags.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	cmdRoot.AddCommand(cmdServe, cmdCaches, cmdVersion)
}

// setupLogging sets the global logger.
// Output goes to stdout, and also to the log file if specified.
func setupLogging() error {
	logLevel := zerolog.InfoLevel
	if verbosityDebugFlag {
		logLevel = zerolog.DebugLevel
	}
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("Cannot open log file: %w", err)
		}
		logOutputs = append(logOutputs, logFileOutput)
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Timestamp().Str("build", version).Logger()
	return nil
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		log.Error().Err(err).Msg("Exiting")
		os.Exit(1)
	}
}
