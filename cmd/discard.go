package cmd

import (
	"fmt"

	"github.com/iksnae/yeschef-session/internal"
	"github.com/spf13/cobra"
)

var discardAll bool

var discardCmd = &cobra.Command{
	Use:   "discard [recipe-id]",
	Short: "Discard paused progress",
	Long:  `Delete the checkpoint for a recipe, or every checkpoint with --all.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !discardAll {
			return fmt.Errorf("specify a recipe ID or --all")
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

		n := discardCheckpoints(store, args, discardAll)
		internal.PrintSuccess(fmt.Sprintf("Discarded %d paused session(s)", n))
		return nil
	},
}

func discardCheckpoints(store *internal.Checkpoints, ids []string, all bool) int {
	if all {
		ids = nil
		for _, cp := range store.List() {
			ids = append(ids, cp.WorkflowID)
		}
	}
	n := 0
	for _, id := range ids {
		if _, ok := store.Load(id); !ok {
			internal.LogDebug("No checkpoint for %s", id)
			continue
		}
		store.Clear(id)
		n++
	}
	return n
}

func init() {
	rootCmd.AddCommand(discardCmd)
	discardCmd.Flags().BoolVar(&discardAll, "all", false, "Discard every paused session")
}
