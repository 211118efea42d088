package api

import (
	"context"
	"errors"

	"github.com/matheus3301/chatsync/internal/engine"
	"github.com/matheus3301/chatsync/internal/live"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ChatService implements the ChatSync gRPC service over an engine.
type ChatService struct {
	profile string
	engine  *engine.Engine
	machine *status.Machine
	logger  *zap.Logger
}

// NewChatService creates a new chat service. machine may be nil.
func NewChatService(profile string, e *engine.Engine, m *status.Machine, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{profile: profile, engine: e, machine: m, logger: logger}
}

var _ ChatSyncServer = (*ChatService)(nil)

func (s *ChatService) Send(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	conv, err := required(req, "conversation_id")
	if err != nil {
		return nil, err
	}
	msg, err := s.engine.Send(ctx, conv, str(req, "content"))
	if err != nil {
		return nil, s.toStatus("send", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"message": MessageToValue(msg),
	}}, nil
}

// Sync reconciles one conversation, or every known conversation when
// conversation_id is empty.
func (s *ChatService) Sync(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var (
		res intsync.Result
		err error
	)
	if conv := str(req, "conversation_id"); conv != "" {
		res, err = s.engine.Sync(ctx, conv)
	} else {
		res, err = s.engine.SyncAll(ctx)
	}
	if err != nil {
		return nil, s.toStatus("sync", err)
	}
	return resultToStruct(res), nil
}

func (s *ChatService) ListMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	conv, err := required(req, "conversation_id")
	if err != nil {
		return nil, err
	}
	msgs, err := s.engine.Messages(conv)
	if err != nil {
		return nil, s.toStatus("list messages", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"messages": MessagesToValue(msgs),
	}}, nil
}

func (s *ChatService) Retry(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := required(req, "message_id")
	if err != nil {
		return nil, err
	}
	msg, err := s.engine.Retry(ctx, id)
	if err != nil {
		return nil, s.toStatus("retry", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"message": MessageToValue(msg),
	}}, nil
}

func (s *ChatService) Open(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	conv, err := required(req, "conversation_id")
	if err != nil {
		return nil, err
	}
	if err := s.engine.Open(ctx, conv); err != nil {
		return nil, s.toStatus("open", err)
	}
	return &structpb.Struct{}, nil
}

func (s *ChatService) Close(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	conv, err := required(req, "conversation_id")
	if err != nil {
		return nil, err
	}
	s.engine.Close(conv)
	return &structpb.Struct{}, nil
}

func (s *ChatService) Status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st := Status{
		Profile:           s.profile,
		HasToken:          s.engine.HasToken(),
		OpenConversations: s.engine.OpenConversations(),
	}
	if s.machine != nil {
		state, since, reason := s.machine.Snapshot()
		st.State, st.Since, st.Reason = string(state), since, reason
	}
	var err error
	if st.Pending, err = s.engine.PendingCount(); err != nil {
		return nil, s.toStatus("status", err)
	}
	if st.Conversations, err = s.engine.Conversations(); err != nil {
		return nil, s.toStatus("status", err)
	}
	return statusToStruct(st), nil
}

// Observe streams conversation snapshots until the client goes away.
func (s *ChatService) Observe(req *structpb.Struct, stream grpc.ServerStream) error {
	conv, err := required(req, "conversation_id")
	if err != nil {
		return err
	}
	snapshots, err := s.engine.Observe(stream.Context(), conv)
	if err != nil {
		return s.toStatus("observe", err)
	}
	for snap := range snapshots {
		if err := stream.SendMsg(&structpb.Struct{Fields: map[string]*structpb.Value{
			"messages": MessagesToValue(snap),
		}}); err != nil {
			return err
		}
	}
	return nil
}

func required(req *structpb.Struct, key string) (string, error) {
	v := str(req, key)
	if v == "" {
		return "", grpcstatus.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return v, nil
}

// toStatus maps engine errors to gRPC status codes.
func (s *ChatService) toStatus(op string, err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.FromContextError(err).Err()
	case errors.Is(err, outbox.ErrEmptyContent), errors.Is(err, outbox.ErrNoConversation):
		code = codes.InvalidArgument
	case errors.Is(err, store.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, store.ErrNotFailed), errors.Is(err, intsync.ErrNoToken), errors.Is(err, live.ErrClosed):
		code = codes.FailedPrecondition
	case errors.Is(err, remote.ErrRejected):
		code = codes.PermissionDenied
	case errors.Is(err, remote.ErrUnauthorized):
		code = codes.Unauthenticated
	default:
		var se *remote.StatusError
		if errors.As(err, &se) {
			code = codes.Unavailable
		} else {
			code = codes.Internal
			s.logger.Error("request failed", zap.String("op", op), zap.Error(err))
		}
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}
