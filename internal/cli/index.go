package cli

import (
	"github.com/spf13/cobra"
)

var indexForce bool

var indexCmd = &cobra.Command{
	Use:   "index <path>",
	Short: "Index a project tree for semantic code search",
	Long: `Walk a source tree, chunk each file along structural boundaries and
index the chunks. Unchanged files are skipped on re-runs; pass --force
to re-index everything.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

var codeSearchLimit int

var codeSearchCmd = &cobra.Command{
	Use:   "code-search <query>",
	Short: "Search indexed code by meaning and keywords",
	Args:  cobra.ExactArgs(1),
	RunE:  runCodeSearch,
}

var freshnessCmd = &cobra.Command{
	Use:   "freshness <path>",
	Short: "Report which indexed files are stale, removed or new",
	Args:  cobra.ExactArgs(1),
	RunE:  runFreshness,
}

func init() {
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "re-index files even when unchanged")
	codeSearchCmd.Flags().IntVar(&codeSearchLimit, "limit", 0, "maximum results (default from config)")

	rootCmd.AddCommand(indexCmd, codeSearchCmd, freshnessCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.idx.Index(cmd.Context(), args[0], indexForce)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runCodeSearch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	limit := codeSearchLimit
	if limit <= 0 {
		limit = a.cfg.Search.DefaultLimit
	}

	chunks, err := a.idx.Search(cmd.Context(), args[0], limit)
	if err != nil {
		return err
	}
	return printJSON(chunks)
}

func runFreshness(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.idx.Freshness(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(report)
}
