package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/boardsync/pkg/mutation"
	"github.com/cuemby/boardsync/pkg/types"
)

// Task commands
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks on a board",
	Long: `Manage tasks on a board.

Columns may be given by id or by title. Every command opens a session on
the board, applies the change locally and waits for the server to commit it.`,
}

var taskCreateCmd = &cobra.Command{
	Use:   "create BOARD_ID --column COLUMN --title TITLE",
	Short: "Create a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		columnRef, _ := f.GetString("column")
		index, _ := f.GetInt("index")

		task := types.Task{}
		task.Title, _ = f.GetString("title")
		task.Description, _ = f.GetString("description")
		task.Assignee, _ = f.GetString("assignee")
		priority, _ := f.GetString("priority")
		task.Priority = types.Priority(priority)
		due, err := parseDue(cmd)
		if err != nil {
			return err
		}
		task.DueDate = due

		ack, err := submit(cmd, args[0], func(ctx context.Context, s *remoteSession) (*mutation.Future, error) {
			col, err := resolveColumn(s.Snapshot().Board, columnRef)
			if err != nil {
				return nil, err
			}
			task.ColumnID = col.ID
			return s.CreateTask(ctx, task, index)
		})
		if err != nil {
			return fmt.Errorf("failed to create task: %v", err)
		}
		printAck(ack, "Task created")
		return nil
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update BOARD_ID TASK_ID",
	Short: "Update a task's fields",
	Long: `Update a task's fields. Only the flags given are changed; pass an
empty --due to clear the due date.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		due, err := parseDue(cmd)
		if err != nil {
			return err
		}

		ack, err := submit(cmd, args[0], func(ctx context.Context, s *remoteSession) (*mutation.Future, error) {
			current, err := s.Snapshot().Board.Task(args[1])
			if err != nil {
				return nil, err
			}
			task := *current.Clone()
			if f.Changed("title") {
				task.Title, _ = f.GetString("title")
			}
			if f.Changed("description") {
				task.Description, _ = f.GetString("description")
			}
			if f.Changed("assignee") {
				task.Assignee, _ = f.GetString("assignee")
			}
			if f.Changed("priority") {
				p, _ := f.GetString("priority")
				task.Priority = types.Priority(p)
			}
			if f.Changed("due") {
				task.DueDate = due
			}
			return s.UpdateTask(ctx, task)
		})
		if err != nil {
			return fmt.Errorf("failed to update task: %v", err)
		}
		printAck(ack, "Task updated")
		return nil
	},
}

var taskMoveCmd = &cobra.Command{
	Use:   "move BOARD_ID TASK_ID --to COLUMN",
	Short: "Move a task to another position",
	Long: `Move a task to a position in a column.

--index is a slot in the destination column as currently shown, counted from
0 before the first task; the default appends to the end.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		toRef, _ := cmd.Flags().GetString("to")
		index, _ := cmd.Flags().GetInt("index")
		taskID := args[1]

		ack, err := submit(cmd, args[0], func(ctx context.Context, s *remoteSession) (*mutation.Future, error) {
			state := s.Snapshot().Board
			from, ok := state.Order().Find(taskID)
			if !ok {
				return nil, fmt.Errorf("task %s is not on the board", taskID)
			}
			col, err := resolveColumn(state, toRef)
			if err != nil {
				return nil, err
			}
			if index < 0 || index > len(col.TaskIDs) {
				index = len(col.TaskIDs)
			}
			return s.Move(ctx, taskID, from, types.Location{ColumnID: col.ID, Index: index})
		})
		if err != nil {
			return fmt.Errorf("failed to move task: %v", err)
		}
		printAck(ack, "Task moved")
		return nil
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete BOARD_ID TASK_ID",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ack, err := submit(cmd, args[0], func(ctx context.Context, s *remoteSession) (*mutation.Future, error) {
			return s.DeleteTask(ctx, args[1])
		})
		if err != nil {
			return fmt.Errorf("failed to delete task: %v", err)
		}
		printAck(ack, "Task deleted")
		return nil
	},
}

func init() {
	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskUpdateCmd)
	taskCmd.AddCommand(taskMoveCmd)
	taskCmd.AddCommand(taskDeleteCmd)

	for _, c := range []*cobra.Command{taskCreateCmd, taskUpdateCmd, taskMoveCmd, taskDeleteCmd} {
		addRemoteFlags(c)
	}

	for _, c := range []*cobra.Command{taskCreateCmd, taskUpdateCmd} {
		c.Flags().String("title", "", "Task title")
		c.Flags().String("description", "", "Task description")
		c.Flags().String("assignee", "", "Assigned user ID")
		c.Flags().String("due", "", "Due date (YYYY-MM-DD or RFC 3339)")
	}
	taskCreateCmd.Flags().String("priority", string(types.PriorityMedium), "Priority (low, medium, high)")
	taskUpdateCmd.Flags().String("priority", "", "Priority (low, medium, high)")
	taskCreateCmd.Flags().String("column", "", "Column ID or title")
	taskCreateCmd.Flags().Int("index", -1, "Position in the column (default: end)")
	_ = taskCreateCmd.MarkFlagRequired("column")
	_ = taskCreateCmd.MarkFlagRequired("title")

	taskMoveCmd.Flags().String("to", "", "Destination column ID or title")
	taskMoveCmd.Flags().Int("index", -1, "Destination slot (default: end)")
	_ = taskMoveCmd.MarkFlagRequired("to")
}

// parseDue reads --due; an empty value means no due date
func parseDue(cmd *cobra.Command) (*time.Time, error) {
	s, _ := cmd.Flags().GetString("due")
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid --due %q: use YYYY-MM-DD or RFC 3339", s)
}
