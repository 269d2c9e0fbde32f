package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	stepHeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)

	tipStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

// ShowProgress runs fn behind a spinner on a terminal, or plainly otherwise.
func ShowProgress(ctx context.Context, message string, fn func() error) error {
	if !isTerminal(os.Stderr) {
		LogInfo(message)
		return fn()
	}
	return showProgressSimple(ctx, os.Stderr, message, fn)
}

func showProgressSimple(ctx context.Context, w io.Writer, message string, fn func() error) error {
	spinnerChars := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	done := make(chan error, 1)
	stop := make(chan struct{})
	spinnerDone := make(chan struct{})

	go func() {
		defer close(spinnerDone)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		i := 0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				char := spinnerChars[i%len(spinnerChars)]
				fmt.Fprintf(w, "\r%s %s", progressStyle.Render(char), message)
				i++
			}
		}
	}()

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		close(stop)
		<-spinnerDone
		if err != nil {
			fmt.Fprintf(w, "\r%s %s\n", errorStyle.Render("✗"), message)
			return err
		}
		fmt.Fprintf(w, "\r%s %s\n", successStyle.Render("✓"), message)
		return nil
	case <-ctx.Done():
		close(stop)
		<-spinnerDone
		return ctx.Err()
	}
}

// isTerminal checks if the writer is a terminal
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil {
			return false
		}
		return (stat.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	if isTerminal(os.Stdout) {
		fmt.Printf("%s %s\n", successStyle.Render("✓"), message)
	} else {
		fmt.Println(message)
	}
}

// PrintError prints an error message
func PrintError(message string) {
	if isTerminal(os.Stderr) {
		fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Render("✗"), message)
	} else {
		fmt.Fprintf(os.Stderr, "%s\n", message)
	}
}

// PrintInfo prints an info message
func PrintInfo(message string) {
	if isTerminal(os.Stdout) {
		fmt.Printf("%s %s\n", progressStyle.Render("ℹ"), message)
	} else {
		fmt.Println(message)
	}
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	if isTerminal(os.Stderr) {
		fmt.Fprintf(os.Stderr, "%s %s\n", warningStyle.Render("⚠"), message)
	} else {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", message)
	}
}

// RenderSnapshot draws the cook screen for s.
func RenderSnapshot(s Snapshot) string {
	var b strings.Builder

	title := s.Title
	if title == "" {
		title = s.RecipeID
	}
	b.WriteString(stepHeaderStyle.Render(title))
	b.WriteString("\n")

	switch s.Phase {
	case PhaseBootstrapping:
		b.WriteString("Loading recipe…")
	case PhaseError:
		fmt.Fprintf(&b, "%s %s\n", errorStyle.Render("✗"), s.Error)
		b.WriteString("Type 'retry' to load again.")
	case PhaseAwaitingStart:
		renderAwaitingStart(&b, s)
	case PhaseAcquiring:
		if s.Attempt > 1 {
			fmt.Fprintf(&b, "Connecting… (attempt %d of %d)", s.Attempt, s.MaxAttempts)
		} else {
			b.WriteString("Connecting…")
		}
	case PhaseActive:
		renderActive(&b, s)
	case PhaseEnding:
		b.WriteString("Wrapping up…")
	}

	return panelStyle.Render(b.String())
}

func renderAwaitingStart(b *strings.Builder, s Snapshot) {
	if s.Error != "" {
		style := errorStyle
		if s.RateLimited {
			style = warningStyle
		}
		fmt.Fprintf(b, "%s %s\n", style.Render("!"), s.Error)
	}
	if s.Offer != nil {
		fmt.Fprintf(b, "Paused at step %d of %d (%s cooked).\n", s.Offer.ResumeStep(), s.TotalSteps, FormatElapsed(s.Offer.ElapsedSeconds))
		b.WriteString("Type 'resume' to continue or 'fresh' to start over.")
		return
	}
	fmt.Fprintf(b, "%d steps. Type 'start' when you're ready.", s.TotalSteps)
}

func renderActive(b *strings.Builder, s Snapshot) {
	fmt.Fprintf(b, "%s   %s\n", s.Presentation.Render(), FormatElapsed(s.ElapsedSeconds))
	if s.Step != nil {
		fmt.Fprintf(b, "%s\n", stepHeaderStyle.Render(fmt.Sprintf("Step %d of %d", s.StepIndex+1, s.TotalSteps)))
		b.WriteString(s.Step.Instruction)
		if s.Step.DurationMinutes != nil {
			fmt.Fprintf(b, " (%d min)", *s.Step.DurationMinutes)
		}
		b.WriteString("\n")
		if s.Step.Tip != "" {
			fmt.Fprintf(b, "%s\n", tipStyle.Render("Tip: "+s.Step.Tip))
		}
	}

	mic := "on"
	if s.Capture.MicrophoneMuted {
		mic = "muted"
	}
	cam := "off"
	if s.Capture.CameraEnabled {
		cam = "on (" + string(s.Capture.FacingMode) + ")"
	}
	if s.Flipping {
		cam = "flipping…"
	}
	fmt.Fprintf(b, "mic %s · camera %s", mic, cam)

	if s.Error != "" {
		fmt.Fprintf(b, "\n%s %s", errorStyle.Render("!"), s.Error)
	}
	if s.ConfirmingEnd {
		fmt.Fprintf(b, "\n%s", warningStyle.Render("End this session? Progress will not be saved. (yes/no)"))
	}
}
