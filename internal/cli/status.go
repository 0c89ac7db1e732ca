package cli

import (
	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/pkg/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the selected cartridge's store status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	memories, err := a.mems.Count(cmd.Context())
	if err != nil {
		return err
	}
	chunks, err := a.engine.ItemCount(cmd.Context(), store.CodeChunks)
	if err != nil {
		return err
	}

	return printJSON(map[string]interface{}{
		"cartridge":  a.cart.Dir,
		"store":      a.engine.Path(),
		"dimensions": a.engine.Dimensions(),
		"provider":   a.cfg.Embedding.Provider,
		"model":      a.cfg.Embedding.Model,
		"memories":   memories,
		"chunks":     chunks,
	})
}
