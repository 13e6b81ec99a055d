package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/boardsync/pkg/board"
	"github.com/cuemby/boardsync/pkg/events"
	"github.com/cuemby/boardsync/pkg/realtime"
	"github.com/cuemby/boardsync/pkg/types"
)

// Board commands
var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Manage boards",
}

var boardCreateCmd = &cobra.Command{
	Use:   "create [BOARD_ID]",
	Short: "Create a board",
	Long: `Create a board with an ordered list of columns.

Without --column the board gets the default "To Do", "In Progress" and
"Done" columns. Without BOARD_ID the server generates one.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var boardID string
		if len(args) == 1 {
			boardID = args[0]
		}
		columns, _ := cmd.Flags().GetStringSlice("column")

		c, err := dialServer(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		state, err := c.CreateBoard(cmd.Context(), boardID, columns)
		if err != nil {
			return fmt.Errorf("failed to create board: %v", err)
		}

		fmt.Printf("✓ Board created: %s\n", state.Board.ID)
		for _, id := range state.Board.ColumnOrder {
			fmt.Printf("  %s  %s\n", id, state.Board.Columns[id].Title)
		}
		return nil
	},
}

var boardListCmd = &cobra.Command{
	Use:   "list",
	Short: "List boards",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialServer(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		boards, err := c.ListBoards(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list boards: %v", err)
		}
		if len(boards) == 0 {
			fmt.Println("No boards")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCOLUMNS\tTASKS\tREVISION")
		for _, b := range boards {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", b.ID, b.Columns, b.Tasks, b.Revision)
		}
		return w.Flush()
	},
}

var boardShowCmd = &cobra.Command{
	Use:   "show BOARD_ID",
	Short: "Show a board's columns and tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialServer(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		state, err := c.Fetch(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to fetch board: %v", err)
		}
		printBoard(state, time.Now())
		return nil
	},
}

var boardWatchCmd = &cobra.Command{
	Use:   "watch BOARD_ID",
	Short: "Stream a board's committed changes",
	Long: `Stream a board's committed changes until interrupted.

By default changes come from the server's change stream starting at --from.
With --redis they come from the Redis relay instead, which only carries
changes committed while watching.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		boardID := args[0]
		from, _ := cmd.Flags().GetUint64("from")
		viaRedis, _ := cmd.Flags().GetBool("redis")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var changes <-chan *types.ChangeEvent
		if viaRedis {
			if cfg.Redis.Addr == "" {
				return fmt.Errorf("--redis needs redis.addr in the config")
			}
			rdb := newRedisClient()
			defer rdb.Close()

			relay := realtime.NewRelay(rdb, cfg.Redis.Prefix)
			rev, err := relay.Revision(ctx, boardID)
			if err != nil {
				return fmt.Errorf("failed to read relayed revision: %v", err)
			}
			fmt.Printf("Watching %s via Redis (last relayed revision %d)\n", boardID, rev)
			if changes, err = relay.Watch(ctx, boardID); err != nil {
				return fmt.Errorf("failed to watch board: %v", err)
			}
		} else {
			c, err := dialServer(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			if from == 0 {
				state, err := c.Fetch(ctx, boardID)
				if err != nil {
					return fmt.Errorf("failed to fetch board: %v", err)
				}
				from = state.Revision + 1
			}
			fmt.Printf("Watching %s from revision %d\n", boardID, from)
			if changes, err = c.Subscribe(ctx, boardID, from); err != nil {
				return fmt.Errorf("failed to watch board: %v", err)
			}
		}

		for ev := range changes {
			printChange(ev)
		}
		if ctx.Err() == nil {
			return fmt.Errorf("change stream closed")
		}
		return nil
	},
}

var boardJoinCmd = &cobra.Command{
	Use:   "join BOARD_ID",
	Short: "Open a live session on a board",
	Long: `Open a live session on a board and print the board, notifications and
collaborators as they change, until interrupted.

Presence is tracked when redis.addr is configured.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rs, err := openSession(ctx, cmd, args[0])
		if err != nil {
			return err
		}
		defer rs.close()

		notes := rs.broker.Subscribe()
		defer rs.broker.Unsubscribe(notes)

		snap := rs.Snapshot()
		printBoard(snap.Board, time.Now())
		fmt.Printf("Joined as %s. Press Ctrl+C to leave.\n", userID(cmd))

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		lastRev := snap.Board.Revision

		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nLeaving board")
				return nil
			case ev, ok := <-notes:
				if !ok {
					return nil
				}
				printNotification(ev)
			case <-ticker.C:
				snap := rs.Snapshot()
				if snap.Board.Revision != lastRev {
					lastRev = snap.Board.Revision
					printBoard(snap.Board, time.Now())
				}
				if len(snap.Online) > 0 {
					fmt.Printf("Online (%s): %s\n", snap.Presence, strings.Join(snap.Online, ", "))
				}
			}
		}
	},
}

func init() {
	boardCmd.AddCommand(boardCreateCmd)
	boardCmd.AddCommand(boardListCmd)
	boardCmd.AddCommand(boardShowCmd)
	boardCmd.AddCommand(boardWatchCmd)
	boardCmd.AddCommand(boardJoinCmd)

	for _, c := range []*cobra.Command{boardCreateCmd, boardListCmd, boardShowCmd, boardWatchCmd, boardJoinCmd} {
		addRemoteFlags(c)
	}

	boardCreateCmd.Flags().StringSlice("column", defaultColumns, "Column title, in order (repeatable)")
	boardWatchCmd.Flags().Uint64("from", 0, "First revision to stream (default: after the current revision)")
	boardWatchCmd.Flags().Bool("redis", false, "Watch the Redis relay instead of the server")
}

func printBoard(s *board.State, now time.Time) {
	fmt.Printf("Board %s (revision %d)\n", s.Board.ID, s.Revision)
	for _, colID := range s.Board.ColumnOrder {
		col := s.Board.Columns[colID]
		tasks := s.ColumnTasks(colID)
		fmt.Printf("\n%s [%d]  %s\n", col.Title, len(tasks), col.ID)
		for _, t := range tasks {
			line := fmt.Sprintf("  - %s  %s (%s)", t.ID, t.Title, t.Priority)
			if t.Assignee != "" {
				line += " @" + t.Assignee
			}
			if t.DueDate != nil {
				line += " due " + t.DueDate.Format("2006-01-02")
				if t.Overdue(now) {
					line += " OVERDUE"
				}
			}
			fmt.Println(line)
		}
	}
	fmt.Println()
}

func printChange(ev *types.ChangeEvent) {
	fmt.Printf("r%d %s %s by %s at %s\n",
		ev.Revision, ev.Kind, ev.MutationID, ev.OriginID, ev.CommitTime.Format(time.RFC3339))
	for _, t := range ev.Payload.Tasks {
		fmt.Printf("  task %s %q in %s\n", t.ID, t.Title, t.ColumnID)
	}
	for _, id := range ev.Payload.DeletedTaskIDs {
		fmt.Printf("  task %s deleted\n", id)
	}
	for _, c := range ev.Payload.Columns {
		fmt.Printf("  column %s %q: %s\n", c.ID, c.Title, strings.Join(c.TaskIDs, ", "))
	}
}

func printNotification(ev *events.Event) {
	fmt.Printf("[%s] %s\n", ev.Timestamp.Format("15:04:05"), ev.Message)
}

