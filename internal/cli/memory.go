package cli

import (
	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/pkg/memstore"
)

var rememberSource string

var rememberCmd = &cobra.Command{
	Use:   "remember <subject> <content>",
	Short: "Store a memory under a hierarchical subject",
	Long: `Store a memory. The subject is a dot-delimited path, by convention
under one of the user., project., self. or session. namespaces.`,
	Args: cobra.ExactArgs(2),
	RunE: runRemember,
}

var (
	recallLimit        int
	recallMinRelevance float64
)

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Search memories by meaning and keywords",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecall,
}

var forgetCmd = &cobra.Command{
	Use:   "forget <id>",
	Short: "Delete a memory by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runForget,
}

var consolidateThreshold float64

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Merge near-duplicate memories within each subject namespace",
	Args:  cobra.NoArgs,
	RunE:  runConsolidate,
}

func init() {
	rememberCmd.Flags().StringVar(&rememberSource, "source", "user", "memory provenance (user, agent, system)")
	recallCmd.Flags().IntVar(&recallLimit, "limit", 0, "maximum results (default from config)")
	recallCmd.Flags().Float64Var(&recallMinRelevance, "min-relevance", -1, "relevance floor (default from config)")
	consolidateCmd.Flags().Float64Var(&consolidateThreshold, "threshold", 0, "similarity threshold (default from config)")

	rootCmd.AddCommand(rememberCmd, recallCmd, forgetCmd, consolidateCmd)
}

func runRemember(cmd *cobra.Command, args []string) error {
	subject, err := memstore.ParseSubject(args[0])
	if err != nil {
		return err
	}
	source, err := memstore.ParseSource(rememberSource)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	id, err := a.mems.Remember(cmd.Context(), subject, args[1], source)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{
		"id":      id,
		"subject": subject.String(),
	})
}

func runRecall(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	limit := recallLimit
	if limit <= 0 {
		limit = a.cfg.Search.DefaultLimit
	}
	minRelevance := recallMinRelevance
	if minRelevance < 0 {
		minRelevance = a.cfg.Search.MinRelevance
	}

	memories, err := a.mems.Recall(cmd.Context(), args[0], limit, minRelevance)
	if err != nil {
		return err
	}
	return printJSON(memories)
}

func runForget(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	forgotten, err := a.mems.Forget(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"id":        args[0],
		"forgotten": forgotten,
	})
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	threshold := consolidateThreshold
	if threshold <= 0 {
		threshold = a.cfg.Consolidation.SimilarityThreshold
	}

	merged, err := a.mems.Consolidate(cmd.Context(), threshold)
	if err != nil {
		return err
	}
	count, err := a.mems.Count(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"merged":    merged,
		"remaining": count,
	})
}
