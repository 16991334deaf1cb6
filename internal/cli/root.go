package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/modkit-labs/modkit/internal/branding"
	"github.com/modkit-labs/modkit/internal/config"
	"github.com/modkit-labs/modkit/internal/logging"
	"github.com/spf13/cobra"
)

var (
	buildVersion string
	buildCommit  string
	buildDate    string

	flagVerbose bool
	flagProject string
)

var rootCmd = &cobra.Command{
	Use:   branding.CLIName(),
	Short: branding.Description(),
	Long: branding.DisplayName() + ` scaffolds mobile app projects and manages the optional
capabilities (plugins) installed into them over the project's lifetime.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(flagVerbose)
		config.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging on stderr")
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "p", ".", "Project root directory")
}

// Execute runs the root command with build info injected via ldflags and
// returns the process exit code.
func Execute(version, commit, date string) int {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	defer logging.Sync()

	err := rootCmd.Execute()
	if err == nil {
		return ExitOK
	}

	var silent *silentError
	if !errors.As(err, &silent) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return exitCodeFor(err)
}
