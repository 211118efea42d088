package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// New dials the daemon's Unix domain socket.
func New(socketPath string, opts ...grpc.DialOption) (*Client, error) {
	return Dial("unix://"+socketPath, opts...)
}

// Dial connects to the daemon at a gRPC target. Insecure transport
// credentials are added; opts may add more (a bufconn dialer in tests).
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, health: healthpb.NewHealthClient(conn)}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Ping reports whether the daemon is serving.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: api.ServiceName})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("daemon not serving: %s", resp.GetStatus())
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Send queues a message.
func (c *Client) Send(ctx context.Context, conversationID, content string) (*store.Message, error) {
	out, err := c.call(ctx, api.MethodSend, api.NewRequest("conversation_id", conversationID, "content", content))
	if err != nil {
		return nil, err
	}
	msg := api.MessageFromStruct(out.GetFields()["message"].GetStructValue())
	return &msg, nil
}

// Sync reconciles a conversation, or all conversations when conversationID is empty.
func (c *Client) Sync(ctx context.Context, conversationID string) (intsync.Result, error) {
	out, err := c.call(ctx, api.MethodSync, api.NewRequest("conversation_id", conversationID))
	if err != nil {
		return intsync.Result{}, err
	}
	return api.ResultFromStruct(out), nil
}

// ListMessages returns the ordered messages of a conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	out, err := c.call(ctx, api.MethodListMessages, api.NewRequest("conversation_id", conversationID))
	if err != nil {
		return nil, err
	}
	return api.MessagesFromStruct(out), nil
}

// Retry re-queues a failed message.
func (c *Client) Retry(ctx context.Context, messageID string) (*store.Message, error) {
	out, err := c.call(ctx, api.MethodRetry, api.NewRequest("message_id", messageID))
	if err != nil {
		return nil, err
	}
	msg := api.MessageFromStruct(out.GetFields()["message"].GetStructValue())
	return &msg, nil
}

// Open connects the live feed of a conversation.
func (c *Client) Open(ctx context.Context, conversationID string) error {
	_, err := c.call(ctx, api.MethodOpen, api.NewRequest("conversation_id", conversationID))
	return err
}

// CloseConversation disconnects the live feed of a conversation.
func (c *Client) CloseConversation(ctx context.Context, conversationID string) error {
	_, err := c.call(ctx, api.MethodClose, api.NewRequest("conversation_id", conversationID))
	return err
}

// Status returns the daemon state.
func (c *Client) Status(ctx context.Context) (api.Status, error) {
	out, err := c.call(ctx, api.MethodStatus, &structpb.Struct{})
	if err != nil {
		return api.Status{}, err
	}
	return api.StatusFromStruct(out), nil
}

// Observe streams conversation snapshots to fn until ctx ends, the stream
// fails, or fn returns an error.
func (c *Client) Observe(ctx context.Context, conversationID string, fn func([]store.Message) error) error {
	stream, err := c.conn.NewStream(ctx, &api.ServiceDesc.Streams[0], api.MethodObserve)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(api.NewRequest("conversation_id", conversationID)); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(api.MessagesFromStruct(out)); err != nil {
			return err
		}
	}
}
