package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-call-later/internal/config"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one check cycle and exit",
	Long: `Run a single check cycle, for cron jobs and other external triggers.

With --task the named task is run immediately, whatever its time_to_run.
With --at the cycle is evaluated at the given RFC3339 instant instead of now.
The cycle summary is printed as JSON.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().String("at", "", "evaluate the cycle at this RFC3339 time (default: now)")
	checkCmd.Flags().String("task", "", "run only this task id, regardless of its time_to_run")
}

func runCheck(cmd *cobra.Command, _ []string) error {
	now := time.Now().UTC()
	if at, _ := cmd.Flags().GetString("at"); at != "" {
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		now = parsed.UTC()
	}
	taskID, _ := cmd.Flags().GetString("task")

	ctx := context.Background()
	rt, err := newRuntime(ctx, config.Load(viper.GetViper()), "check")
	if err != nil {
		return err
	}
	defer rt.close()
	sched := rt.scheduler()

	if taskID != "" {
		if err := sched.CheckTask(ctx, taskID, now); err != nil {
			return fmt.Errorf("check task %s: %w", taskID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "task %s checked at %s\n", taskID, now.Format(time.RFC3339))
		return nil
	}

	sum, err := sched.Check(ctx, now)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}
