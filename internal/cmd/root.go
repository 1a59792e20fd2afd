// Package cmd implements the treeaudit command line.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/3leaps/treeaudit/internal/config"
	"github.com/3leaps/treeaudit/internal/observability"
	"github.com/3leaps/treeaudit/internal/server/handlers"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var appIdentity *config.Identity

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "treeaudit",
	Short: "Audit and repair legacy expiration dates in a content tree",
	Long: `treeaudit walks a hierarchical content tree, finds assets whose
expiration date metadata is stored as a string, and optionally rewrites it
as a native date, committing repairs in batches.

Run a one-off audit in the foreground with "treeaudit audit run", or start
the management server with "treeaudit serve" and drive the job over HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		id := config.DefaultIdentity
		appIdentity = &id
		observability.InitCLILogger(id.BinaryName, verbose)
		config.SetConfigFile(cfgFile)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: treeaudit.yaml in . or the user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// SetVersionInfo records build metadata for the version command and the
// /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity set during command start-up, or nil.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

const exitFailure = 1

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (exit code %d)", e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// exitCode maps a command error onto a process exit code.
func exitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return exitFailure
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		_ = observability.CLILogger.Sync()
		os.Exit(code)
	}
}
