package api

import (
	"context"

	"google.golang.org/grpc"

	"github.com/cuemby/boardsync/pkg/board"
	"github.com/cuemby/boardsync/pkg/types"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "boardsync.BoardService"

// Full method names
const (
	MethodCreateBoard    = "/" + ServiceName + "/CreateBoard"
	MethodGetBoard       = "/" + ServiceName + "/GetBoard"
	MethodListBoards     = "/" + ServiceName + "/ListBoards"
	MethodWrite          = "/" + ServiceName + "/Write"
	MethodGetClusterInfo = "/" + ServiceName + "/GetClusterInfo"
	MethodWatchBoard     = "/" + ServiceName + "/WatchBoard"
)

type CreateBoardRequest struct {
	BoardID string   `json:"boardId,omitempty"`
	Columns []string `json:"columns"`
}

type GetBoardRequest struct {
	BoardID string `json:"boardId"`
}

type BoardResponse struct {
	Board *board.State `json:"board"`
}

type ListBoardsRequest struct{}

// BoardSummary is one row of a board listing
type BoardSummary struct {
	ID       string `json:"id"`
	Columns  int    `json:"columns"`
	Tasks    int    `json:"tasks"`
	Revision uint64 `json:"revision"`
}

type ListBoardsResponse struct {
	Boards []*BoardSummary `json:"boards"`
}

type WriteRequest struct {
	BoardID  string          `json:"boardId"`
	Mutation *types.Mutation `json:"mutation"`
}

type WriteResponse struct {
	Ack *types.Ack `json:"ack"`
}

type WatchBoardRequest struct {
	BoardID      string `json:"boardId"`
	FromRevision uint64 `json:"fromRevision"`
}

type GetClusterInfoRequest struct{}

type ClusterInfo struct {
	Leader       string `json:"leader"`
	State        string `json:"state"`
	LastLogIndex uint64 `json:"lastLogIndex"`
	AppliedIndex uint64 `json:"appliedIndex"`
}

// BoardService is the server API of the authoritative board store
type BoardService interface {
	CreateBoard(context.Context, *CreateBoardRequest) (*BoardResponse, error)
	GetBoard(context.Context, *GetBoardRequest) (*BoardResponse, error)
	ListBoards(context.Context, *ListBoardsRequest) (*ListBoardsResponse, error)
	Write(context.Context, *WriteRequest) (*WriteResponse, error)
	GetClusterInfo(context.Context, *GetClusterInfoRequest) (*ClusterInfo, error)
	WatchBoard(*WatchBoardRequest, grpc.ServerStream) error
}

// RegisterBoardService registers srv on s
func RegisterBoardService(s grpc.ServiceRegistrar, srv BoardService) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BoardService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateBoard", Handler: createBoardHandler},
		{MethodName: "GetBoard", Handler: getBoardHandler},
		{MethodName: "ListBoards", Handler: listBoardsHandler},
		{MethodName: "Write", Handler: writeHandler},
		{MethodName: "GetClusterInfo", Handler: getClusterInfoHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchBoard",
			Handler:       watchBoardHandler,
			ServerStreams: true,
		},
	},
	Metadata: "boardsync",
}

// unary builds a method handler that decodes Req and calls call
func unary[Req any, Resp any](method string, call func(BoardService, context.Context, *Req) (*Resp, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BoardService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(BoardService), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var (
	createBoardHandler    = unary(MethodCreateBoard, BoardService.CreateBoard)
	getBoardHandler       = unary(MethodGetBoard, BoardService.GetBoard)
	listBoardsHandler     = unary(MethodListBoards, BoardService.ListBoards)
	writeHandler          = unary(MethodWrite, BoardService.Write)
	getClusterInfoHandler = unary(MethodGetClusterInfo, BoardService.GetClusterInfo)
)

func watchBoardHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(WatchBoardRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BoardService).WatchBoard(in, stream)
}
