package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/wabot/internal/apperr"
	"github.com/neboloop/wabot/internal/scheduler"
	"github.com/neboloop/wabot/internal/svc"
)

// ScheduleCmd manages scheduled messages while the daemon is stopped.
func ScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled messages (daemon must be stopped)",
	}
	cmd.AddCommand(scheduleListCmd())
	cmd.AddCommand(scheduleAddCmd())
	cmd.AddCommand(scheduleCancelCmd())
	return cmd
}

// withStore runs fn against the store while holding the instance lock, so a
// running daemon never has its file rewritten underneath it.
func withStore(fn func(*scheduler.Store) error) error {
	lockFile, err := acquireLock(paths.Lock)
	if err != nil {
		return fmt.Errorf("%w; use the web interface while the daemon runs", err)
	}
	defer releaseLock(lockFile)

	store := scheduler.NewStore(svc.SchedulePath(cfg, paths))
	if err := store.Load(); err != nil {
		return err
	}
	return fn(store)
}

func scheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending scheduled messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *scheduler.Store) error {
				list := store.List()
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No scheduled messages.")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSEND AT\tTO\tTEXT")
				for _, m := range list {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.SendAt.Local().Format("2006-01-02 15:04:05"), m.To, truncate(m.Text, 40))
				}
				return w.Flush()
			})
		},
	}
}

func scheduleAddCmd() *cobra.Command {
	var (
		to   string
		text string
		at   string
		in   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Schedule a message",
		Example: `  wabot schedule add --to +15551234567 --text "standup in 5" --in 25m
  wabot schedule add --to 15551234567 --text "happy new year" --at 2027-01-01T00:00`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var sendAt time.Time
			switch {
			case at != "" && in != 0:
				return fmt.Errorf("use either --at or --in")
			case at != "":
				t, err := scheduler.ParseSendAt(at)
				if err != nil {
					return errors.New(apperr.Message(err))
				}
				sendAt = t
			case in > 0:
				sendAt = time.Now().Add(in)
			default:
				return fmt.Errorf("--at or --in is required")
			}
			return withStore(func(store *scheduler.Store) error {
				msg, err := store.Add(to, text, sendAt)
				if err != nil {
					return errors.New(apperr.Message(err))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Message scheduled successfully. ID: %s (sends %s)\n",
					msg.ID, msg.SendAt.Local().Format("2006-01-02 15:04:05"))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient phone number or JID")
	cmd.Flags().StringVar(&text, "text", "", "message text")
	cmd.Flags().StringVar(&at, "at", "", "send time, RFC 3339 or local \"2006-01-02T15:04\"")
	cmd.Flags().DurationVar(&in, "in", 0, "send after this delay, e.g. 90m")
	return cmd
}

func scheduleCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a scheduled message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *scheduler.Store) error {
				removed, err := store.Remove(args[0])
				if err != nil {
					return err
				}
				if !removed {
					return errors.New("Message ID not found.")
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Message cancelled successfully.")
				return nil
			})
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
