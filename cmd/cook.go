package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/iksnae/yeschef-session/internal"
	"github.com/iksnae/yeschef-session/internal/export"
	"github.com/iksnae/yeschef-session/internal/rtc"
	"github.com/spf13/cobra"
)

var (
	reportPath   string
	reportFormat string
	cookUserName string
)

var cookCmd = &cobra.Command{
	Use:   "cook <recipe-id>",
	Short: "Run a live cook session",
	Long: `Run a live cook session for a recipe.

The session walks the recipe one step at a time while the assistant listens in.
Type 'help' at the prompt for the list of commands. A paused session can be
resumed for four hours.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cookUserName != "" {
			cfg.Session.UserName = cookUserName
		}

		store, err := openCheckpoints(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				internal.LogWarn("Failed to close checkpoint store: %v", err)
			}
		}()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		lifecycle := internal.NewSignalLifecycle()
		defer lifecycle.Stop()

		out := cmd.OutOrStdout()
		orch, acq := newCookSession(args[0], cfg, store, lifecycle, newScreen(out))
		acq.SetUser(cfg.Session.UserID, cfg.Session.UserName)

		// Registered after the orchestrator so the checkpoint is written first.
		unregister := lifecycle.Register(internal.LifecycleFunc(func(ev internal.LifecycleEvent) {
			if ev == internal.PageUnload {
				cancel()
			}
		}))
		defer unregister()

		if err := orch.Bootstrap(ctx); err != nil {
			internal.LogDebug("Bootstrap failed: %v", err)
		}

		runErr := runCookSession(ctx, orch, cmd.InOrStdin(), out)

		if reportPath != "" {
			if err := writeReport(orch.Report(), reportFormat, reportPath); err != nil {
				return err
			}
			internal.PrintSuccess(fmt.Sprintf("Wrote session report to %s", reportPath))
		}
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(cookCmd)
	cookCmd.Flags().StringVar(&reportPath, "report", "", "Write a session report to this file on exit")
	cookCmd.Flags().StringVar(&reportFormat, "report-format", "md", "Report format ("+strings.Join(export.Formats, ", ")+")")
	cookCmd.Flags().StringVar(&cookUserName, "name", "", "Name the assistant uses for you")
}

// newCookSession wires an orchestrator against the configured API and the
// websocket room client.
func newCookSession(recipeID string, cfg internal.Config, store internal.CheckpointStore, lifecycle internal.LifecycleSource, s *screen) (*internal.Orchestrator, *internal.TokenAcquirer) {
	httpClient := internal.NewHTTPClient()
	if cfg.API.Timeout > 0 {
		httpClient.Timeout = cfg.API.Timeout
	}

	acq := internal.NewTokenAcquirer(
		internal.NewHTTPTokenFetcher(cfg.API.BaseURL, httpClient),
		cfg.Session.MaxTokenAttempts,
		cfg.Session.RetryInterval,
	)

	orch := internal.NewOrchestrator(recipeID, internal.OrchestratorDeps{
		Recipes:      internal.NewRecipeClient(cfg.API.BaseURL, httpClient),
		Tokens:       acq,
		Checkpoints:  store,
		NewRoom:      rtc.Factory(),
		Devices:      rtc.NewSimulatedDevices(),
		Capture:      cfg.Capture,
		Lifecycle:    lifecycle,
		TickInterval: cfg.Session.TickInterval,
		EndingDelay:  cfg.Session.EndingDelay,
		OnChange:     s.update,
	})
	acq.OnAttempt = orch.TrackAttempt
	acq.OnRetry = orch.TrackRetry
	return orch, acq
}

const cookHelp = `Commands:
  start            Start from the first step
  resume           Continue a paused session
  fresh            Discard the paused session and start over
  retry            Reload the recipe after an error
  n, next          Next step
  p, prev          Previous step
  goto <n>         Jump to step n
  mic              Mute or unmute the microphone
  cam              Turn the camera on or off
  flip             Switch between front and back camera
  pause            Save progress and leave the session
  end              End the session (asks for confirmation)
  yes, no          Answer the end confirmation
  status           Redraw the screen
  quit             Leave (progress is saved while cooking)`

// runCookSession reads commands from in until the session ends, in is
// exhausted or ctx is cancelled.
func runCookSession(ctx context.Context, orch *internal.Orchestrator, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	defer orch.Close()

	for {
		select {
		case <-ctx.Done():
			orch.OnLifecycle(internal.PageUnload)
			return nil
		case <-orch.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				orch.OnLifecycle(internal.PageUnload)
				return nil
			}
			quit, err := dispatch(ctx, orch, strings.TrimSpace(line), out)
			if err != nil {
				fmt.Fprintf(out, "%s\n", describeCookError(err))
			}
			if quit {
				orch.OnLifecycle(internal.PageUnload)
				return nil
			}
		}
	}
}

func dispatch(ctx context.Context, orch *internal.Orchestrator, line string, out io.Writer) (bool, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "start":
		return false, orch.Start(ctx)
	case "resume":
		return false, orch.Resume(ctx)
	case "fresh":
		return false, orch.StartFresh(ctx)
	case "retry":
		return false, orch.Bootstrap(ctx)
	case "n", "next":
		orch.Next()
	case "p", "prev", "previous":
		orch.Previous()
	case "goto":
		if len(fields) < 2 {
			return false, errors.New("usage: goto <step>")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return false, fmt.Errorf("invalid step %q", fields[1])
		}
		orch.GoToStep(n - 1)
	case "mic":
		return false, orch.ToggleMicrophone(ctx)
	case "cam", "camera":
		return false, orch.ToggleCamera(ctx)
	case "flip":
		return false, orch.FlipCamera(ctx)
	case "pause":
		return false, orch.Pause()
	case "end":
		return false, orch.RequestEnd()
	case "yes", "y":
		return false, orch.ConfirmEnd(ctx)
	case "no":
		orch.CancelEnd()
	case "status":
		fmt.Fprintln(out, internal.RenderSnapshot(orch.Snapshot()))
	case "help", "?":
		fmt.Fprintln(out, cookHelp)
	case "quit", "exit", "q":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q (type 'help')", fields[0])
	}
	return false, nil
}

func describeCookError(err error) string {
	var devErr *internal.DeviceError
	var acqErr *internal.AcquisitionError
	switch {
	case errors.Is(err, internal.ErrWrongPhase):
		return "That isn't available right now."
	case errors.Is(err, internal.ErrFlipInProgress):
		return "The camera is still switching."
	case errors.As(err, &acqErr):
		return acqErr.UserMessage()
	case errors.As(err, &devErr):
		return devErr.Error()
	default:
		return err.Error()
	}
}

// screen redraws the cook screen when something other than the clock changes.
type screen struct {
	mu   sync.Mutex
	out  io.Writer
	last string
}

func newScreen(out io.Writer) *screen {
	return &screen{out: out}
}

func (s *screen) update(snap internal.Snapshot) {
	key := screenKey(snap)
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == s.last {
		return
	}
	s.last = key
	fmt.Fprintln(s.out, internal.RenderSnapshot(snap))
}

func screenKey(s internal.Snapshot) string {
	offer := 0
	if s.Offer != nil {
		offer = s.Offer.ResumeStep()
	}
	return fmt.Sprintf("%s|%d|%d|%s|%s|%t|%t|%s|%t|%t|%s|%d|%d",
		s.Phase, s.StepIndex, s.TotalSteps, s.Connection, s.Activity,
		s.Capture.MicrophoneMuted, s.Capture.CameraEnabled, s.Capture.FacingMode,
		s.Flipping, s.ConfirmingEnd, s.Error, s.Attempt, offer)
}

func writeReport(report *internal.SessionReport, format, path string) error {
	exporter, err := export.NewExporter(format)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return &internal.ExportError{Format: format, Path: path, Err: err}
	}
	defer f.Close()
	if err := exporter.Export(report, f); err != nil {
		return &internal.ExportError{Format: format, Path: path, Err: err}
	}
	return nil
}
