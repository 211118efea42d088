package api

import (
	"time"

	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"google.golang.org/protobuf/types/known/structpb"
)

// Status is the daemon state reported by the Status method.
type Status struct {
	Profile           string
	State             string
	Since             time.Time
	Reason            string
	HasToken          bool
	Pending           int64
	OpenConversations []string
	Conversations     []store.Conversation
}

// MessageToValue encodes a message as a struct value.
func MessageToValue(m *store.Message) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"id":              structpb.NewStringValue(m.ID),
		"conversation_id": structpb.NewStringValue(m.ConversationID),
		"sender_id":       structpb.NewStringValue(m.SenderID),
		"content":         structpb.NewStringValue(m.Content),
		"created_at":      structpb.NewNumberValue(float64(m.CreatedAt)),
		"status":          structpb.NewStringValue(string(m.Status)),
		"attempts":        structpb.NewNumberValue(float64(m.Attempts)),
		"last_error":      structpb.NewStringValue(m.LastError),
	}})
}

// MessageFromStruct decodes a message encoded by MessageToValue.
func MessageFromStruct(s *structpb.Struct) store.Message {
	return store.Message{
		ID:             str(s, "id"),
		ConversationID: str(s, "conversation_id"),
		SenderID:       str(s, "sender_id"),
		Content:        str(s, "content"),
		CreatedAt:      int64(num(s, "created_at")),
		Status:         store.Status(str(s, "status")),
		Attempts:       int(num(s, "attempts")),
		LastError:      str(s, "last_error"),
	}
}

// MessagesToValue encodes an ordered message list.
func MessagesToValue(msgs []store.Message) *structpb.Value {
	values := make([]*structpb.Value, len(msgs))
	for i := range msgs {
		values[i] = MessageToValue(&msgs[i])
	}
	return structpb.NewListValue(&structpb.ListValue{Values: values})
}

// MessagesFromStruct decodes the "messages" list of a response.
func MessagesFromStruct(s *structpb.Struct) []store.Message {
	list := s.GetFields()["messages"].GetListValue()
	out := make([]store.Message, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		out = append(out, MessageFromStruct(v.GetStructValue()))
	}
	return out
}

func resultToStruct(res intsync.Result) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"pushed": structpb.NewNumberValue(float64(res.Pushed)),
		"pulled": structpb.NewNumberValue(float64(res.Pulled)),
		"failed": structpb.NewNumberValue(float64(res.Failed)),
	}}
}

// ResultFromStruct decodes a Sync response.
func ResultFromStruct(s *structpb.Struct) intsync.Result {
	return intsync.Result{
		Pushed: int(num(s, "pushed")),
		Pulled: int(num(s, "pulled")),
		Failed: int(num(s, "failed")),
	}
}

func statusToStruct(st Status) *structpb.Struct {
	open := make([]*structpb.Value, len(st.OpenConversations))
	for i, id := range st.OpenConversations {
		open[i] = structpb.NewStringValue(id)
	}
	convs := make([]*structpb.Value, len(st.Conversations))
	for i, c := range st.Conversations {
		convs[i] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"id":             structpb.NewStringValue(c.ID),
			"display_name":   structpb.NewStringValue(c.DisplayName),
			"kind":           structpb.NewStringValue(c.Kind),
			"last_synced_at": structpb.NewNumberValue(float64(c.LastSyncedAt)),
		}})
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"profile":            structpb.NewStringValue(st.Profile),
		"state":              structpb.NewStringValue(st.State),
		"since":              structpb.NewNumberValue(float64(st.Since.UnixMilli())),
		"reason":             structpb.NewStringValue(st.Reason),
		"has_token":          structpb.NewBoolValue(st.HasToken),
		"pending":            structpb.NewNumberValue(float64(st.Pending)),
		"open_conversations": structpb.NewListValue(&structpb.ListValue{Values: open}),
		"conversations":      structpb.NewListValue(&structpb.ListValue{Values: convs}),
	}}
}

// StatusFromStruct decodes a Status response.
func StatusFromStruct(s *structpb.Struct) Status {
	st := Status{
		Profile:  str(s, "profile"),
		State:    str(s, "state"),
		Since:    time.UnixMilli(int64(num(s, "since"))),
		Reason:   str(s, "reason"),
		HasToken: s.GetFields()["has_token"].GetBoolValue(),
		Pending:  int64(num(s, "pending")),
	}
	for _, v := range s.GetFields()["open_conversations"].GetListValue().GetValues() {
		st.OpenConversations = append(st.OpenConversations, v.GetStringValue())
	}
	for _, v := range s.GetFields()["conversations"].GetListValue().GetValues() {
		c := v.GetStructValue()
		st.Conversations = append(st.Conversations, store.Conversation{
			ID:           str(c, "id"),
			DisplayName:  str(c, "display_name"),
			Kind:         str(c, "kind"),
			LastSyncedAt: int64(num(c, "last_synced_at")),
		})
	}
	return st
}

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func num(s *structpb.Struct, key string) float64 {
	return s.GetFields()[key].GetNumberValue()
}

// NewRequest builds a request struct from key, value pairs. A trailing key
// without a value is ignored.
func NewRequest(kv ...string) *structpb.Struct {
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		s.Fields[kv[i]] = structpb.NewStringValue(kv[i+1])
	}
	return s
}
