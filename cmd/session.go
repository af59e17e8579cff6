package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hearthware/cookd/internal/checklist"
	"github.com/hearthware/cookd/internal/client"
	"github.com/hearthware/cookd/internal/events"
	"github.com/hearthware/cookd/internal/models"
	"github.com/hearthware/cookd/internal/output"
	"github.com/hearthware/cookd/internal/store"
	"github.com/hearthware/cookd/internal/timer"
)

var sessionStatusFilter string

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage cook sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cook sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionListRun()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session's current step, checklist, and timers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionShowRun(args[0])
	},
}

var sessionWatchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Follow a session's event stream from the daemon",
	Long: `Connect to the running daemon and print live session events.
Reconnects with backoff if the connection drops.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionWatchRun(args[0])
	},
}

var sessionCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete abandoned sessions that never really started",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionCleanupRun()
	},
}

func init() {
	sessionListCmd.Flags().StringVar(&sessionStatusFilter, "status", "", "Filter by status (comma-separated: active,completed,abandoned)")
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionWatchCmd)
	sessionCmd.AddCommand(sessionCleanupCmd)
	rootCmd.AddCommand(sessionCmd)
}

func sessionListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.SessionListFilter{Limit: 50}
	if sessionStatusFilter != "" {
		for _, st := range strings.Split(sessionStatusFilter, ",") {
			st = strings.TrimSpace(st)
			if st != "" {
				filter.Statuses = append(filter.Statuses, models.SessionStatus(st))
			}
		}
	}

	sessions, err := s.ListSessions(ctx, filter)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		ui.Info("No sessions found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Recipe", "Status", "Step", "Progress", "Started"})
	titleCache := make(map[string]*models.Recipe)
	for _, sess := range sessions {
		recipe, ok := titleCache[sess.RecipeID]
		if !ok {
			recipe, _ = s.GetRecipe(ctx, sess.RecipeID)
			titleCache[sess.RecipeID] = recipe
		}
		title := sess.RecipeID
		progress := "-"
		stepCount := "?"
		if recipe != nil {
			title = recipe.Title
			steps := checklist.EffectiveSteps(sess, recipe)
			progress = output.ProgressColor(checklist.ProgressPercent(sess, steps))
			stepCount = strconv.Itoa(len(steps))
		}
		table.Append([]string{
			shortID(sess.ID),
			output.Cyan(title),
			output.StatusColor(string(sess.Status)),
			fmt.Sprintf("%d/%s", sess.CurrentStepIndex+1, stepCount),
			progress,
			timeAgo(sess.StartedAt),
		})
	}
	table.Render()
	return nil
}

func sessionShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	recipe, err := s.GetRecipe(ctx, sess.RecipeID)
	if err != nil {
		return err
	}
	steps := checklist.EffectiveSteps(sess, recipe)
	now := time.Now().UTC()

	fmt.Fprintf(ui.Out, "%s  %s  v%d\n", output.Cyan(recipe.Title), output.StatusColor(string(sess.Status)), sess.Version)
	if sess.MethodApplied() {
		fmt.Fprintf(ui.Out, "Method: %s\n", output.Yellow(sess.MethodKey))
	}
	if sess.ServingsTarget != sess.ServingsBase {
		fmt.Fprintf(ui.Out, "Servings: %d (scaled from %d)\n", sess.ServingsTarget, sess.ServingsBase)
	}
	fmt.Fprintf(ui.Out, "Progress: %s\n\n", output.ProgressColor(checklist.ProgressPercent(sess, steps)))

	for i, step := range steps {
		marker := "  "
		if i == sess.CurrentStepIndex {
			marker = output.Green("> ")
		}
		done := ""
		if checklist.IsStepComplete(sess, steps, i) {
			done = output.Green(" ✓")
		}
		fmt.Fprintf(ui.Out, "%s%d. %s%s\n", marker, i+1, step.Title, done)
		if i == sess.CurrentStepIndex {
			for b, text := range step.Bullets {
				box := "[ ]"
				if sess.Checked(i, b) {
					box = output.Green("[x]")
				}
				fmt.Fprintf(ui.Out, "     %s %s\n", box, text)
			}
		}
	}

	var live []*models.Timer
	for _, t := range sess.Timers {
		if t.DeletedAt == nil {
			live = append(live, t)
		}
	}
	if len(live) > 0 {
		fmt.Fprintln(ui.Out)
		table := ui.Table([]string{"Timer", "State", "Remaining", "Step"})
		for _, t := range live {
			table.Append([]string{
				t.Label,
				output.TimerColor(string(t.State)),
				formatDuration(timer.Remaining(t, now)),
				strconv.Itoa(t.StepIndex + 1),
			})
		}
		table.Render()
	}
	return nil
}

func sessionWatchRun(id string) error {
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	c := client.New(viper.GetString("server.url"))
	handle, err := client.Attach(ctx, c, id)
	if err != nil {
		return err
	}

	handle.OnChange(func(sess *models.CookSession) {
		ui.Info("session v%d: step %d, status %s", sess.Version, sess.CurrentStepIndex+1, sess.Status)
	})
	handle.OnError(func(err error) {
		ui.Error("%v", err)
	})

	sub := client.Subscribe(ctx, c, id,
		func(ctx context.Context, ev events.Event) {
			ui.VerboseLog("event %s v%d", ev.Type, ev.Version)
			handle.HandleEvent(ctx, ev)
		},
		func(st client.StreamState) {
			switch st {
			case client.StreamConnected:
				ui.Success("connected")
			case client.StreamBackingOff:
				ui.Warning("connection lost, retrying")
			case client.StreamGivenUp:
				ui.Error("gave up reconnecting")
				stop()
			}
		},
	)

	ui.Info("Watching session %s (ctrl-c to stop)", shortID(id))
	<-ctx.Done()
	_ = sub
	return nil
}

func sessionCleanupRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would delete stale abandoned sessions")
		return nil
	}
	n, err := s.DeleteStaleSessions(context.Background())
	if err != nil {
		return err
	}
	ui.Success("Deleted %d stale session(s)", n)
	return nil
}

// timeAgo formats a timestamp as a relative duration.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// formatDuration renders seconds as m:ss or h:mm:ss.
func formatDuration(sec int) string {
	if sec >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", sec/3600, (sec%3600)/60, sec%60)
	}
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}
