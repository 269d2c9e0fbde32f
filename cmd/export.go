package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/iksnae/yeschef-session/internal"
	"github.com/iksnae/yeschef-session/internal/export"
	"github.com/spf13/cobra"
)

var (
	format    string
	outputDir string
	recipeID  string
	offline   bool
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export paused sessions to file",
	Long: `Export paused cook sessions to various formats (jsonl, md, yaml, json).

You can export every paused session or a single one by recipe ID.
Use 'yeschef list' to see what is available.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		exporter, err := export.NewExporter(format)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openCheckpoints(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		var recipes internal.RecipeSource
		if !offline {
			httpClient := internal.NewHTTPClient()
			if cfg.API.Timeout > 0 {
				httpClient.Timeout = cfg.API.Timeout
			}
			recipes = internal.NewRecipeClient(cfg.API.BaseURL, httpClient)
		}

		var written []string
		err = internal.ShowProgress(cmd.Context(), fmt.Sprintf("Exporting sessions to %s", outputDir), func() error {
			var exportErr error
			written, exportErr = exportCheckpoints(cmd.Context(), store, recipes, exporter, outputDir, recipeID)
			return exportErr
		})
		if err != nil {
			return err
		}

		internal.PrintSuccess(fmt.Sprintf("Exported %d session(s) to %s", len(written), outputDir))
		return nil
	},
}

// exportCheckpoints writes one report per paused session and returns the
// files written. A nil recipes source exports without titles.
func exportCheckpoints(ctx context.Context, store *internal.Checkpoints, recipes internal.RecipeSource, exporter export.Exporter, dir, only string) ([]string, error) {
	var checkpoints []internal.Checkpoint
	if only != "" {
		cp, ok := store.Load(only)
		if !ok {
			return nil, fmt.Errorf("no paused session for %s (use 'yeschef list' to see available sessions)", only)
		}
		checkpoints = []internal.Checkpoint{*cp}
	} else {
		checkpoints = store.List()
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var written []string
	for _, cp := range checkpoints {
		var recipe *internal.Recipe
		if recipes != nil {
			r, err := recipes.Recipe(ctx, cp.WorkflowID)
			if err != nil {
				internal.LogWarn("Exporting %s without recipe details: %v", cp.WorkflowID, err)
			} else {
				recipe = r
			}
		}

		report := internal.ReportFromCheckpoint(cp, recipe)
		path := filepath.Join(dir, fmt.Sprintf("session_%s.%s", cp.WorkflowID, exporter.Extension()))

		file, err := os.Create(path)
		if err != nil {
			internal.LogError("Failed to create file %s: %v", path, err)
			continue
		}
		if err := exporter.Export(report, file); err != nil {
			_ = file.Close()
			internal.LogError("Failed to export session %s: %v", cp.WorkflowID, err)
			continue
		}
		if err := file.Close(); err != nil {
			internal.LogWarn("Failed to close file %s: %v", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&format, "format", "f", "jsonl", "Export format ("+strings.Join(export.Formats, ", ")+")")
	exportCmd.Flags().StringVarP(&outputDir, "out", "o", "./exports", "Output directory")
	exportCmd.Flags().StringVar(&recipeID, "recipe", "", "Export only the session for this recipe ID")
	exportCmd.Flags().BoolVar(&offline, "offline", false, "Do not fetch recipe titles from the API")
}
