package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/yeschef-session/internal"
	"github.com/spf13/cobra"
)

var (
	// Styles
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	expiryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Italic(true)
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List resumable sessions",
	Long: `List paused cook sessions that can still be resumed.

Sessions older than the checkpoint TTL (four hours by default) are removed as
they are found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openCheckpoints(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		displayCheckpoints(cmd.OutOrStdout(), store.List(), time.Now(), store.TTL())
		return nil
	},
}

func displayCheckpoints(out io.Writer, checkpoints []internal.Checkpoint, now time.Time, ttl time.Duration) {
	if len(checkpoints) == 0 {
		fmt.Fprintln(out, headerStyle.Render("🍳 No paused sessions"))
		return
	}

	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("🍳 Found %d paused session(s)", len(checkpoints))))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, titleStyle.Render("Recipe")+"\t"+titleStyle.Render("Step")+"\t"+titleStyle.Render("Cooked")+"\t"+titleStyle.Render("Paused")+"\t"+titleStyle.Render("Expires")+"\t")
	_, _ = fmt.Fprintln(w, strings.Repeat("─", 80))

	for _, cp := range checkpoints {
		id := idStyle.Render(cp.WorkflowID)
		step := countStyle.Render(fmt.Sprintf("%d", cp.ResumeStep()))
		cooked := internal.FormatElapsed(cp.ElapsedSeconds)
		paused := dateStyle.Render(formatPaused(cp.PausedTime(), now))
		expires := expiryStyle.Render("in " + formatRemaining(ttl-cp.Age(now)))
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n", id, step, cooked, paused, expires)
	}

	_ = w.Flush()
	fmt.Fprintln(out)
	fmt.Fprintln(out, idStyle.Render("💡 Tip: Use ")+
		lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Render("yeschef cook "+checkpoints[0].WorkflowID)+
		idStyle.Render(" and type 'resume'"))
}

func formatPaused(t, now time.Time) string {
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return t.Local().Format("Today 15:04")
	default:
		return t.Local().Format("Jan 02 15:04")
	}
}

func formatRemaining(d time.Duration) string {
	if d < time.Minute {
		return "<1m"
	}
	d = d.Truncate(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh%02dm", h, m)
}

func init() {
	rootCmd.AddCommand(listCmd)
}
