package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/yeschef-session/internal"
	"github.com/spf13/cobra"
)

var (
	healthcheckVerbose bool
)

var (
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Underline(true)
)

// healthcheckCmd represents the healthcheck command
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check that yeschef can reach its store and API",
	Long: `Check the health of yeschef by verifying:
  • Configuration loads and validates
  • The checkpoint store opens and lists sessions
  • The recipe and token API answers /health

This command is useful for debugging setup issues before a cook session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHealthcheck(cmd.Context(), cmd.OutOrStdout())
	},
}

func runHealthcheck(ctx context.Context, out io.Writer) error {
	fmt.Fprintln(out, sectionStyle.Render("🔍 YesChef Health Check"))
	fmt.Fprintln(out)

	// Step 1: Configuration
	fmt.Fprintln(out, infoStyle.Render("Step 1: Loading configuration..."))
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(out, errorStyle.Render("❌ Invalid configuration:"), err)
		return fmt.Errorf("health check failed: %w", err)
	}
	fmt.Fprintln(out, successStyle.Render("✅ Configuration valid"))
	if healthcheckVerbose {
		fmt.Fprintf(out, "   API: %s\n", cfg.API.BaseURL)
		fmt.Fprintf(out, "   Store: %s (%s)\n", cfg.Checkpoint.Backend, cfg.Checkpoint.Path)
		fmt.Fprintf(out, "   Checkpoint TTL: %s\n", cfg.Checkpoint.TTL)
	}
	fmt.Fprintln(out)

	// Step 2: Checkpoint store
	fmt.Fprintln(out, infoStyle.Render("Step 2: Opening checkpoint store..."))
	store, err := openCheckpoints(cfg)
	if err != nil {
		fmt.Fprintln(out, errorStyle.Render("❌ Failed to open checkpoint store:"), err)
		return fmt.Errorf("health check failed: %w", err)
	}
	paused := store.List()
	_ = store.Close()
	fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✅ Checkpoint store available (%d paused session(s))", len(paused))))
	if healthcheckVerbose {
		for i, cp := range paused {
			if i == 5 {
				fmt.Fprintf(out, "   ... and %d more\n", len(paused)-5)
				break
			}
			fmt.Fprintf(out, "   [%d] %s at step %d\n", i+1, cp.WorkflowID, cp.ResumeStep())
		}
	}
	fmt.Fprintln(out)

	// Step 3: API
	fmt.Fprintln(out, infoStyle.Render("Step 3: Contacting API..."))
	httpClient := internal.NewHTTPClient()
	httpClient.Timeout = 5 * time.Second
	service, err := internal.NewRecipeClient(cfg.API.BaseURL, httpClient).Health(ctx)
	apiOK := err == nil
	if apiOK {
		fmt.Fprintln(out, successStyle.Render("✅ API reachable"))
		if healthcheckVerbose && service != "" {
			fmt.Fprintf(out, "   Service: %s\n", service)
		}
	} else {
		fmt.Fprintln(out, warningStyle.Render("⚠️  API not reachable:"), err)
		fmt.Fprintln(out, "   Run `yeschef serve` or set api.base_url / YESCHEF_API_URL")
	}
	fmt.Fprintln(out)

	// Summary
	fmt.Fprintln(out, sectionStyle.Render("📊 Summary"))
	fmt.Fprintln(out)
	if !apiOK {
		fmt.Fprintln(out, errorStyle.Render("❌ Health check failed"))
		fmt.Fprintln(out, "   • Sessions cannot start without the API")
		return fmt.Errorf("health check failed: API unavailable")
	}
	fmt.Fprintln(out, successStyle.Render("✅ Health check passed!"))
	fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("   • Paused sessions: %d", len(paused))))
	return nil
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
	healthcheckCmd.Flags().BoolVar(&healthcheckVerbose, "details", false, "Show detailed diagnostic information")
}
