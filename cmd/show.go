package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/yeschef-session/internal"
	"github.com/spf13/cobra"
)

var (
	// Styles for show command
	recipeHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("212")).
				Padding(0, 1).
				MarginBottom(1)

	recipeMetaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			MarginBottom(1)

	currentStepStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("39")).
				Bold(true).
				Padding(0, 1)

	stepStyle = lipgloss.NewStyle().
			Padding(0, 1)

	tipStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true).
			Padding(0, 4)
)

// showCmd represents the show command
var showCmd = &cobra.Command{
	Use:   "show <recipe-id>",
	Short: "Show a recipe and any paused progress",
	Long: `Display a recipe's ingredients and steps. When a paused session exists
for the recipe, the step it will resume at is highlighted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recipeID := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openCheckpoints(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		var cp *internal.Checkpoint
		if found, ok := store.Load(recipeID); ok {
			cp = found
		}

		httpClient := internal.NewHTTPClient()
		if cfg.API.Timeout > 0 {
			httpClient.Timeout = cfg.API.Timeout
		}
		var recipe *internal.Recipe
		err = internal.ShowProgress(cmd.Context(), "Loading recipe...", func() error {
			var loadErr error
			recipe, loadErr = internal.NewRecipeClient(cfg.API.BaseURL, httpClient).Recipe(cmd.Context(), recipeID)
			return loadErr
		})
		if err != nil {
			if cp == nil {
				return err
			}
			internal.PrintWarning(fmt.Sprintf("Could not load recipe: %v", err))
		}

		displayRecipe(cmd.OutOrStdout(), recipeID, recipe, cp, store.TTL(), time.Now())
		return nil
	},
}

func displayRecipe(out io.Writer, recipeID string, recipe *internal.Recipe, cp *internal.Checkpoint, ttl time.Duration, now time.Time) {
	title := recipeID
	if recipe != nil && recipe.Title != "" {
		title = recipe.Title
	}
	fmt.Fprintln(out, recipeHeaderStyle.Render("🍳 "+title))

	var meta []string
	meta = append(meta, "ID: "+recipeID)
	if recipe != nil {
		meta = append(meta, fmt.Sprintf("Steps: %d", len(recipe.Steps)))
		if recipe.Servings != "" {
			meta = append(meta, "Serves: "+recipe.Servings)
		}
		if recipe.Difficulty != "" {
			meta = append(meta, "Difficulty: "+recipe.Difficulty)
		}
	}
	fmt.Fprintln(out, recipeMetaStyle.Render(strings.Join(meta, " · ")))

	if cp != nil {
		fmt.Fprintln(out, currentStepStyle.Render(fmt.Sprintf("⏸  Paused at step %d, %s cooked, expires in %s",
			cp.ResumeStep(), internal.FormatElapsed(cp.ElapsedSeconds), formatRemaining(ttl-cp.Age(now)))))
		fmt.Fprintln(out)
	}

	if recipe == nil {
		return
	}

	if len(recipe.Ingredients) > 0 {
		fmt.Fprintln(out, titleStyle.Render("Ingredients"))
		for _, ing := range recipe.Ingredients {
			qty := strings.TrimSpace(ing.Quantity + " " + ing.Unit)
			if qty != "" {
				fmt.Fprintf(out, "  • %s %s\n", qty, ing.Item)
			} else {
				fmt.Fprintf(out, "  • %s\n", ing.Item)
			}
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, titleStyle.Render("Steps"))
	for i, step := range recipe.Steps {
		line := fmt.Sprintf("%2d. %s", step.Number, step.Instruction)
		if step.DurationMinutes != nil {
			line += fmt.Sprintf(" (%d min)", *step.DurationMinutes)
		}
		if cp != nil && cp.CurrentStep == i {
			fmt.Fprintln(out, currentStepStyle.Render("▶ "+line))
		} else {
			fmt.Fprintln(out, stepStyle.Render("  "+line))
		}
		if step.Tip != "" {
			fmt.Fprintln(out, tipStyle.Render("Tip: "+step.Tip))
		}
	}
}

func init() {
	rootCmd.AddCommand(showCmd)
}
