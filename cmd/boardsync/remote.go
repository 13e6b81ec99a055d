package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cuemby/boardsync/pkg/board"
	"github.com/cuemby/boardsync/pkg/client"
	"github.com/cuemby/boardsync/pkg/events"
	"github.com/cuemby/boardsync/pkg/mutation"
	"github.com/cuemby/boardsync/pkg/presence"
	"github.com/cuemby/boardsync/pkg/realtime"
	"github.com/cuemby/boardsync/pkg/session"
	"github.com/cuemby/boardsync/pkg/types"
)

// addRemoteFlags registers the flags every client command shares
func addRemoteFlags(cmd *cobra.Command) {
	cmd.Flags().String("server", "", "Server gRPC address (defaults to server.grpc_addr)")
	cmd.Flags().String("user", "", "User ID shown to collaborators (defaults to $USER)")
}

func serverAddr(cmd *cobra.Command) string {
	if addr, _ := cmd.Flags().GetString("server"); addr != "" {
		return addr
	}
	return cfg.Server.GRPCAddr
}

func userID(cmd *cobra.Command) string {
	if user, _ := cmd.Flags().GetString("user"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "anonymous"
}

func dialServer(cmd *cobra.Command) (*client.Client, error) {
	c, err := client.NewClient(serverAddr(cmd))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %v", err)
	}
	return c, nil
}

func newRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// remoteSession is a board session against a boardsync server, with Redis
// presence when configured
type remoteSession struct {
	*session.Session
	client *client.Client
	redis  *redis.Client
	broker *events.Broker[*events.Event]
}

func openSession(ctx context.Context, cmd *cobra.Command, boardID string) (*remoteSession, error) {
	c, err := dialServer(cmd)
	if err != nil {
		return nil, err
	}
	rs := &remoteSession{client: c, broker: events.NewBroker[*events.Event](64)}
	rs.broker.Start()

	var transport presence.Transport
	if cfg.Redis.Addr != "" {
		rs.redis = newRedisClient()
		transport = realtime.NewPresence(rs.redis, cfg.PresenceTransportConfig())
	}

	sc := cfg.SessionConfig(boardID, userID(cmd))
	sc.Broker = rs.broker
	s, err := session.Open(ctx, c, transport, sc)
	if err != nil {
		rs.close()
		return nil, err
	}
	rs.Session = s
	return rs, nil
}

func (rs *remoteSession) close() {
	if rs.Session != nil {
		_ = rs.Session.Close()
	}
	rs.broker.Stop()
	if rs.redis != nil {
		_ = rs.redis.Close()
	}
	_ = rs.client.Close()
}

// submit opens a session on boardID, runs intent against it and waits for
// the server's acknowledgment
func submit(cmd *cobra.Command, boardID string, intent func(ctx context.Context, s *remoteSession) (*mutation.Future, error)) (*types.Ack, error) {
	ctx := cmd.Context()
	rs, err := openSession(ctx, cmd, boardID)
	if err != nil {
		return nil, err
	}
	defer rs.close()

	f, err := intent(ctx, rs)
	if err != nil {
		return nil, err
	}
	ack, err := f.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return ack, nil
}

func printAck(ack *types.Ack, what string) {
	if ack == nil {
		fmt.Printf("Nothing to do: %s\n", what)
		return
	}
	fmt.Printf("✓ %s (revision %d)\n", what, ack.Revision)
}

// resolveColumn finds a column by id, then by case-insensitive title
func resolveColumn(s *board.State, ref string) (*types.Column, error) {
	if c, err := s.Column(ref); err == nil {
		return c, nil
	}
	var found *types.Column
	for _, id := range s.Board.ColumnOrder {
		c := s.Board.Columns[id]
		if strings.EqualFold(c.Title, ref) {
			if found != nil {
				return nil, fmt.Errorf("column title %q is ambiguous, use the column id", ref)
			}
			found = c
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", board.ErrColumnNotFound, ref)
	}
	return found, nil
}
