package remote

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/matheus3301/chatsync/internal/store"
)

// EventNewMessage is the only socket event type the engine acts on.
const EventNewMessage = "new_message"

// ID is a server identifier. Servers send ids either as JSON strings or as
// numbers; both decode to their decimal text.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return fmt.Errorf("id: unexpected %s", data)
	}
	*id = ID(data)
	return nil
}

// Timestamp is an epoch-millisecond instant. It decodes from a JSON number
// (epoch ms) or from a date string.
type Timestamp int64

// maxTimestamp is 10000-01-01T00:00:00Z. Later instants are rejected so a
// bogus value cannot pin the pull watermark.
const maxTimestamp = 253402300800000

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*t = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		ms, err := ParseTimestamp(s)
		if err != nil {
			return err
		}
		*t = Timestamp(ms)
		return nil
	}
	if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		if n >= maxTimestamp {
			return fmt.Errorf("%w: timestamp %s", ErrMalformed, data)
		}
		*t = Timestamp(n)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil || math.IsNaN(f) || f < 0 || f >= maxTimestamp {
		return fmt.Errorf("%w: timestamp %s", ErrMalformed, data)
	}
	*t = Timestamp(int64(f))
	return nil
}

// ParseTimestamp converts a date string to epoch milliseconds. Strings without
// a zone are read as UTC.
func ParseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("timestamp: cannot parse %q", s)
}

// Message is a server message record as returned by the push endpoint, the
// pull endpoint and the event socket.
type Message struct {
	ID        ID        `json:"id"`
	ChatID    ID        `json:"chatId"`
	SenderID  ID        `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt Timestamp `json:"createdAt"`
}

// Validate checks that m can be stored in the given conversation. An empty
// chatId is accepted and means the requested conversation.
func (m *Message) Validate(conversationID string) error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: missing id", ErrMalformed)
	case strings.HasPrefix(string(m.ID), store.TempIDPrefix):
		return fmt.Errorf("%w: server id %q uses the local id prefix", ErrMalformed, m.ID)
	case m.CreatedAt <= 0 || m.CreatedAt >= maxTimestamp:
		return fmt.Errorf("%w: message %s has no valid createdAt", ErrMalformed, m.ID)
	case m.ChatID != "" && conversationID != "" && string(m.ChatID) != conversationID:
		return fmt.Errorf("%w: message %s belongs to chat %s, not %s", ErrMalformed, m.ID, m.ChatID, conversationID)
	}
	return nil
}

// Record converts m into a synced store row of the given conversation.
func (m *Message) Record(conversationID string) store.Message {
	return store.Message{
		ID:             string(m.ID),
		ConversationID: conversationID,
		SenderID:       string(m.SenderID),
		Content:        m.Content,
		CreatedAt:      int64(m.CreatedAt),
		Status:         store.StatusSynced,
	}
}

// Event is a message pushed by the server over the event socket.
type Event struct {
	Type string `json:"type"`
	Message
}

// DecodeEvent parses one socket frame.
func DecodeEvent(data []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("%w: decode event: %v", ErrMalformed, err)
	}
	return &evt, nil
}

// Batch is the result of a pull. Records that failed validation are not part
// of Messages; their errors are kept in Dropped.
type Batch struct {
	Messages []Message
	Dropped  []error
}

func decodeBatch(body []byte, conversationID string) (*Batch, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || string(body) == "null" {
		return &Batch{}, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: pull response is not an array: %v", ErrMalformed, err)
	}
	batch := &Batch{Messages: make([]Message, 0, len(raw))}
	for i, item := range raw {
		var m Message
		if err := json.Unmarshal(item, &m); err != nil {
			batch.Dropped = append(batch.Dropped, fmt.Errorf("%w: item %d: %v", ErrMalformed, i, err))
			continue
		}
		if err := m.Validate(conversationID); err != nil {
			batch.Dropped = append(batch.Dropped, err)
			continue
		}
		batch.Messages = append(batch.Messages, m)
	}
	return batch, nil
}
