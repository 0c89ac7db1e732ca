package cli

import (
	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/pkg/cartridge"
)

var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "Export and import portable cartridges",
}

var exportIncludeAssets bool

var cartExportCmd = &cobra.Command{
	Use:   "export <dest>",
	Short: "Export the cartridge to a directory or zip archive",
	Long: `Export the selected cartridge to a self-contained archive: the store
backing file, core and preference documents, and a checksummed
manifest. A destination ending in .zip produces a zip file; anything
else produces a directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runCartExport,
}

var importMode string

var cartImportCmd = &cobra.Command{
	Use:   "import <archive>",
	Short: "Import a cartridge archive",
	Long: `Import an archive into the selected cartridge. Modes:

  safe      fail if the target cartridge already has a store
  override  replace the target store with the archive's
  merge     fold archive memories in, skipping content-hash duplicates
  dry_run   report what merge would do without writing`,
	Args: cobra.ExactArgs(1),
	RunE: runCartImport,
}

func init() {
	cartExportCmd.Flags().BoolVar(&exportIncludeAssets, "include-assets", false, "include large assets in the archive")
	cartImportCmd.Flags().StringVar(&importMode, "mode", "safe", "conflict policy (safe, override, merge, dry_run)")

	cartCmd.AddCommand(cartExportCmd, cartImportCmd)
	rootCmd.AddCommand(cartCmd)
}

func runCartExport(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	result, err := cartridge.Export(cmd.Context(), a.cart, a.engine, a.mems, args[0], exportIncludeAssets)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runCartImport(cmd *cobra.Command, args []string) error {
	mode, err := cartridge.ParseMode(importMode)
	if err != nil {
		return err
	}

	// Import opens the target store itself when merging, so only the
	// config-level environment is built here.
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.close()

	result, err := cartridge.Import(cmd.Context(), args[0], e.cart, mode, e.provider, e.searchConfig(), e.logger())
	if err != nil {
		return err
	}
	return printJSON(result)
}
