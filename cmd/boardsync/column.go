package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/boardsync/pkg/mutation"
)

// Column commands
var columnCmd = &cobra.Command{
	Use:   "column",
	Short: "Manage columns on a board",
}

var columnCreateCmd = &cobra.Command{
	Use:   "create BOARD_ID TITLE",
	Short: "Append a column",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var columnID string
		ack, err := submit(cmd, args[0], func(ctx context.Context, s *remoteSession) (*mutation.Future, error) {
			id, f, err := s.CreateColumn(ctx, args[1])
			columnID = id
			return f, err
		})
		if err != nil {
			return fmt.Errorf("failed to create column: %v", err)
		}
		printAck(ack, "Column created: "+columnID)
		return nil
	},
}

var columnRenameCmd = &cobra.Command{
	Use:   "rename BOARD_ID COLUMN TITLE",
	Short: "Rename a column",
	Long:  "Rename a column, given by id or by its current title.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ack, err := submit(cmd, args[0], func(ctx context.Context, s *remoteSession) (*mutation.Future, error) {
			col, err := resolveColumn(s.Snapshot().Board, args[1])
			if err != nil {
				return nil, err
			}
			return s.RenameColumn(ctx, col.ID, args[2])
		})
		if err != nil {
			return fmt.Errorf("failed to rename column: %v", err)
		}
		printAck(ack, "Column renamed")
		return nil
	},
}

func init() {
	columnCmd.AddCommand(columnCreateCmd)
	columnCmd.AddCommand(columnRenameCmd)

	addRemoteFlags(columnCreateCmd)
	addRemoteFlags(columnRenameCmd)
}
