package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/cuemby/boardsync/pkg/api"
	"github.com/cuemby/boardsync/pkg/board"
	"github.com/cuemby/boardsync/pkg/mutation"
	"github.com/cuemby/boardsync/pkg/types"
)

// ErrNotFound is returned when the server does not know a board
var ErrNotFound = errors.New("not found")

// defaultTimeout bounds unary calls made without a deadline
const defaultTimeout = 10 * time.Second

// Client wraps the BoardService gRPC API. It satisfies session.Persistence,
// so a Session can sync against a remote manager.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient creates a new client for the manager at addr. opts are
// appended to the default dial options.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	return &Client{conn: conn}, nil
}

// Close closes the client connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	return fromStatus(c.conn.Invoke(ctx, method, req, resp))
}

// CreateBoard creates a board with the given column titles
func (c *Client) CreateBoard(ctx context.Context, boardID string, columns []string) (*board.State, error) {
	var resp api.BoardResponse
	if err := c.invoke(ctx, api.MethodCreateBoard, &api.CreateBoardRequest{BoardID: boardID, Columns: columns}, &resp); err != nil {
		return nil, err
	}
	return resp.Board, nil
}

// Fetch returns the latest committed state of a board
func (c *Client) Fetch(ctx context.Context, boardID string) (*board.State, error) {
	var resp api.BoardResponse
	if err := c.invoke(ctx, api.MethodGetBoard, &api.GetBoardRequest{BoardID: boardID}, &resp); err != nil {
		return nil, err
	}
	if resp.Board == nil {
		return nil, fmt.Errorf("board %s: empty response", boardID)
	}
	return resp.Board, nil
}

// ListBoards lists every board on the server
func (c *Client) ListBoards(ctx context.Context) ([]*api.BoardSummary, error) {
	var resp api.ListBoardsResponse
	if err := c.invoke(ctx, api.MethodListBoards, &api.ListBoardsRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Boards, nil
}

// Write commits a mutation and returns its acknowledgment
func (c *Client) Write(ctx context.Context, boardID string, m *types.Mutation) (*types.Ack, error) {
	var resp api.WriteResponse
	if err := c.invoke(ctx, api.MethodWrite, &api.WriteRequest{BoardID: boardID, Mutation: m}, &resp); err != nil {
		return nil, err
	}
	if resp.Ack == nil {
		return nil, fmt.Errorf("mutation %s: empty acknowledgment", m.ID)
	}
	return resp.Ack, nil
}

// GetClusterInfo reports the Raft state of the server
func (c *Client) GetClusterInfo(ctx context.Context) (*api.ClusterInfo, error) {
	var resp api.ClusterInfo
	if err := c.invoke(ctx, api.MethodGetClusterInfo, &api.GetClusterInfoRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

var watchDesc = &grpc.StreamDesc{StreamName: "WatchBoard", ServerStreams: true}

// Subscribe streams the change events of a board from fromRevision on.
// The channel closes when ctx is done or the stream fails.
func (c *Client) Subscribe(ctx context.Context, boardID string, fromRevision uint64) (<-chan *types.ChangeEvent, error) {
	stream, err := c.conn.NewStream(ctx, watchDesc, api.MethodWatchBoard)
	if err != nil {
		return nil, fromStatus(err)
	}
	if err := stream.SendMsg(&api.WatchBoardRequest{BoardID: boardID, FromRevision: fromRevision}); err != nil {
		return nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fromStatus(err)
	}

	out := make(chan *types.ChangeEvent, 64)
	go func() {
		defer close(out)
		for {
			ev := new(types.ChangeEvent)
			if err := stream.RecvMsg(ev); err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// fromStatus maps gRPC status codes onto the errors a Session classifies
func fromStatus(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", mutation.ErrDisconnected, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, st.Message())
	case codes.FailedPrecondition, codes.InvalidArgument, codes.AlreadyExists, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", mutation.ErrRejected, st.Message())
	}
	return err
}
