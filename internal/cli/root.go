// Package cli is the command surface: thin cobra commands that wire
// configuration, the embedding provider and the cartridge's store
// together, print JSON results to stdout and log to stderr.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/internal/tracing"
)

const version = "0.1.0"

var (
	cfgFile  string
	cartName string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Mnemo - durable memory and codebase awareness for AI agents",
	Long: `Mnemo is a local, embedding-backed knowledge store. It remembers
facts under hierarchical subjects, indexes project source trees for
semantic code search, and packs everything into portable cartridges
that can be exported, imported and merged without losing data.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ctx := tracing.NewRequestContext(cmd.Context())
		if cartName != "" {
			ctx = tracing.WithCartridge(ctx, cartName)
		}
		cmd.SetContext(ctx)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mnemo/mnemo.json)")
	rootCmd.PersistentFlags().StringVar(&cartName, "cart", "", "cartridge name (default from config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}
