package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cuemby/boardsync/pkg/log"
	"github.com/cuemby/boardsync/pkg/manager"
	"github.com/cuemby/boardsync/pkg/storage"
)

// Server implements the BoardService gRPC service
type Server struct {
	manager  *manager.Manager
	grpc     *grpc.Server
	readOnly *grpc.Server
	logger   zerolog.Logger

	// closed by Stop to end watch streams
	quit     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a new API server
func NewServer(mgr *manager.Manager) *Server {
	s := &Server{
		manager: mgr,
		grpc: grpc.NewServer(
			grpc.ChainUnaryInterceptor(MetricsInterceptor()),
			grpc.ChainStreamInterceptor(StreamMetricsInterceptor()),
		),
		readOnly: grpc.NewServer(
			grpc.ChainUnaryInterceptor(MetricsInterceptor(), ReadOnlyInterceptor()),
			grpc.ChainStreamInterceptor(StreamMetricsInterceptor()),
		),
		logger: log.WithComponent("api"),
		quit:   make(chan struct{}),
	}
	RegisterBoardService(s.grpc, s)
	RegisterBoardService(s.readOnly, s)
	return s
}

// Start starts the gRPC server
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC API listening")
	return s.grpc.Serve(lis)
}

// ServeReadOnly serves the API on lis with every write method refused.
// It backs the local Unix socket.
func (s *Server) ServeReadOnly(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("Read-only gRPC API listening")
	return s.readOnly.Serve(lis)
}

// Stop ends open watch streams and gracefully stops the gRPC servers
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if s.readOnly != nil {
		s.readOnly.GracefulStop()
	}
}

// CreateBoard creates a board with the requested columns
func (s *Server) CreateBoard(ctx context.Context, req *CreateBoardRequest) (*BoardResponse, error) {
	state, err := s.manager.CreateBoard(ctx, req.BoardID, req.Columns)
	if err != nil {
		return nil, toStatus(err)
	}
	return &BoardResponse{Board: state}, nil
}

// GetBoard returns the latest committed state of a board
func (s *Server) GetBoard(ctx context.Context, req *GetBoardRequest) (*BoardResponse, error) {
	state, err := s.manager.Fetch(ctx, req.BoardID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &BoardResponse{Board: state}, nil
}

// ListBoards lists every board
func (s *Server) ListBoards(ctx context.Context, req *ListBoardsRequest) (*ListBoardsResponse, error) {
	boards, err := s.manager.ListBoards()
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &ListBoardsResponse{Boards: make([]*BoardSummary, 0, len(boards))}
	for _, b := range boards {
		resp.Boards = append(resp.Boards, &BoardSummary{
			ID:       b.Board.ID,
			Columns:  len(b.Board.ColumnOrder),
			Tasks:    len(b.Tasks),
			Revision: b.Revision,
		})
	}
	return resp, nil
}

// Write commits a mutation
func (s *Server) Write(ctx context.Context, req *WriteRequest) (*WriteResponse, error) {
	if req.Mutation == nil {
		return nil, status.Error(codes.InvalidArgument, "mutation is required")
	}
	ack, err := s.manager.Write(ctx, req.BoardID, req.Mutation)
	if err != nil {
		return nil, toStatus(err)
	}
	return &WriteResponse{Ack: ack}, nil
}

// GetClusterInfo reports the Raft state of this node
func (s *Server) GetClusterInfo(ctx context.Context, req *GetClusterInfoRequest) (*ClusterInfo, error) {
	stats := s.manager.GetRaftStats()
	if stats == nil {
		return nil, status.Error(codes.Unavailable, "raft not initialized")
	}

	info := &ClusterInfo{Leader: s.manager.LeaderAddr()}
	if state, ok := stats["state"].(string); ok {
		info.State = state
	}
	if idx, ok := stats["last_log_index"].(uint64); ok {
		info.LastLogIndex = idx
	}
	if idx, ok := stats["applied_index"].(uint64); ok {
		info.AppliedIndex = idx
	}
	return info, nil
}

// WatchBoard streams change events for a board until the client goes away
func (s *Server) WatchBoard(req *WatchBoardRequest, stream grpc.ServerStream) error {
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	go func() {
		select {
		case <-s.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	changes, err := s.manager.Subscribe(ctx, req.BoardID, req.FromRevision)
	if err != nil {
		return toStatus(err)
	}

	s.logger.Debug().
		Str("board_id", req.BoardID).
		Uint64("from_revision", req.FromRevision).
		Msg("Watch started")

	for ev := range changes {
		if err := stream.SendMsg(ev); err != nil {
			return err
		}
	}

	select {
	case <-s.quit:
		return status.Error(codes.Unavailable, "server shutting down")
	default:
	}
	if err := stream.Context().Err(); err != nil {
		return status.FromContextError(err).Err()
	}
	// The manager is shutting down
	return status.Error(codes.Unavailable, "change stream closed")
}

// toStatus maps store errors onto gRPC status codes
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, manager.ErrBoardExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, manager.ErrRejected):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, manager.ErrNotLeader):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, err.Error())
}
