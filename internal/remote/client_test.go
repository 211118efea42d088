package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

func testClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com", "http://", "::bad"} {
		if _, err := New(raw, time.Second); err == nil {
			t.Errorf("New(%q) succeeded, want error", raw)
		}
	}
}

func TestCreateMessage(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/message" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", got)
		}
		var req createMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ChatID != "c1" || req.Content != "hello" {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"srv-1","chatId":"c1","senderId":"u1","content":"hello","createdAt":1700000000000}`))
	}))

	m, err := c.CreateMessage(context.Background(), "tok", "c1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != "srv-1" || m.SenderID != "u1" || m.CreatedAt != 1700000000000 {
		t.Errorf("got %+v", m)
	}

	rec := m.Record("c1")
	if rec.ID != "srv-1" || rec.ConversationID != "c1" || rec.Status != "synced" {
		t.Errorf("record = %+v", rec)
	}
}

func TestCreateMessageFailureClassification(t *testing.T) {
	tests := []struct {
		code         int
		permanent    bool
		unauthorized bool
	}{
		{http.StatusBadRequest, true, false},
		{http.StatusRequestEntityTooLarge, true, false},
		{http.StatusUnprocessableEntity, true, false},
		{http.StatusUnauthorized, false, true},
		{http.StatusForbidden, false, true},
		{http.StatusRequestTimeout, false, false},
		{http.StatusTooManyRequests, false, false},
		{http.StatusInternalServerError, false, false},
		{http.StatusBadGateway, false, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.code)
			}))
			_, err := c.CreateMessage(context.Background(), "tok", "c1", "x")
			if err == nil {
				t.Fatal("expected error")
			}
			var se *StatusError
			if !errors.As(err, &se) || se.StatusCode != tt.code {
				t.Errorf("err = %v, want StatusError %d", err, tt.code)
			}
			if IsPermanent(err) != tt.permanent {
				t.Errorf("IsPermanent = %v, want %v", IsPermanent(err), tt.permanent)
			}
			if IsUnauthorized(err) != tt.unauthorized {
				t.Errorf("IsUnauthorized = %v, want %v", IsUnauthorized(err), tt.unauthorized)
			}
		})
	}
}

func TestCreateMessageMalformedResponse(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chatId":"c1","content":"x"}`))
	}))
	_, err := c.CreateMessage(context.Background(), "tok", "c1", "x")
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
	if IsPermanent(err) {
		t.Error("malformed response should not be permanent")
	}
}

func TestCreateMessageTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.CreateMessage(context.Background(), "tok", "c1", "x")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if IsPermanent(err) {
		t.Error("transport error should not be permanent")
	}
}

func TestListMessagesAfter(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/messages/c1" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("after"); got != "1500" {
			t.Errorf("after = %q, want 1500", got)
		}
		_, _ = w.Write([]byte(`[
			{"id":"b","chatId":"c1","senderId":"u2","content":"second","createdAt":"2024-01-01T00:00:02.000Z"},
			{"id":7,"chatId":"c1","senderId":9,"content":"numeric ids","createdAt":1704067201000},
			{"chatId":"c1","content":"no id","createdAt":1704067201000},
			{"id":"bad-ts","chatId":"c1","content":"x","createdAt":"yesterday"},
			{"id":"foreign","chatId":"c2","content":"x","createdAt":1704067201000},
			{"id":"local-x","chatId":"c1","content":"x","createdAt":1704067201000},
			"not an object"
		]`))
	}))

	batch, err := c.ListMessagesAfter(context.Background(), "tok", "c1", 1500)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Messages) != 2 {
		t.Fatalf("got %d messages, want 2: %+v", len(batch.Messages), batch.Messages)
	}
	if batch.Messages[0].ID != "b" || batch.Messages[0].CreatedAt != 1704067202000 {
		t.Errorf("messages[0] = %+v", batch.Messages[0])
	}
	if batch.Messages[1].ID != "7" || batch.Messages[1].SenderID != "9" {
		t.Errorf("messages[1] = %+v", batch.Messages[1])
	}
	if len(batch.Dropped) != 5 {
		t.Errorf("dropped %d records, want 5: %v", len(batch.Dropped), batch.Dropped)
	}
	for _, err := range batch.Dropped {
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("dropped error %v does not wrap ErrMalformed", err)
		}
	}
}

func TestListMessagesAfterEmptyAndInvalid(t *testing.T) {
	bodies := map[string]bool{
		`[]`:             false,
		`null`:           false,
		``:               false,
		`{"error":"no"}`: true,
	}
	for body, wantErr := range bodies {
		c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		batch, err := c.ListMessagesAfter(context.Background(), "tok", "c1", 0)
		if wantErr {
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("body %q: err = %v, want ErrMalformed", body, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("body %q: %v", body, err)
			continue
		}
		if len(batch.Messages) != 0 {
			t.Errorf("body %q: got %d messages", body, len(batch.Messages))
		}
	}
}

func TestTimestampDecoding(t *testing.T) {
	tests := []struct {
		in      string
		want    Timestamp
		wantErr bool
	}{
		{`1700000000000`, 1700000000000, false},
		{`1700000000000.0`, 1700000000000, false},
		{`"2024-01-01T00:00:00Z"`, 1704067200000, false},
		{`"2024-01-01T00:00:00.123Z"`, 1704067200123, false},
		{`"2024-01-01T02:00:00+02:00"`, 1704067200000, false},
		{`"2024-01-01 00:00:00"`, 1704067200000, false},
		{`null`, 0, false},
		{`"yesterday"`, 0, true},
		{`true`, 0, true},
		{`1e300`, 0, true},
		{`-1e300`, 0, true},
		{`9223372036854775807`, 0, true},
		{`253402300800000`, 0, true},
	}
	for _, tt := range tests {
		var ts Timestamp
		err := json.Unmarshal([]byte(tt.in), &ts)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error, got %d", tt.in, ts)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tt.in, err)
			continue
		}
		if ts != tt.want {
			t.Errorf("%s: got %d, want %d", tt.in, ts, tt.want)
		}
	}
}

func TestStatusErrorBodyKeepsRunes(t *testing.T) {
	body := strings.Repeat("é", 200)
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, body, http.StatusBadRequest)
	}))
	_, err := c.CreateMessage(context.Background(), "tok", "c1", "x")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if len(se.Body) > maxErrorBody || !utf8.ValidString(se.Body) {
		t.Errorf("body has %d bytes, valid utf-8 = %v", len(se.Body), utf8.ValidString(se.Body))
	}
	if !strings.HasPrefix(body, se.Body) || len(se.Body) < maxErrorBody-1 {
		t.Errorf("body = %q, want a %d-byte prefix", se.Body, maxErrorBody)
	}
}

func TestSocketURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:3000", "ws://localhost:3000/chat/ws?chatId=c+1&token=t%26k"},
		{"https://api.example.com/v1/", "wss://api.example.com/v1/chat/ws?chatId=c+1&token=t%26k"},
	}
	for _, tt := range tests {
		c, err := New(tt.base, time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if got := c.SocketURL("c 1", "t&k"); got != tt.want {
			t.Errorf("SocketURL(%s) = %s, want %s", tt.base, got, tt.want)
		}
	}
}

func TestSubscribe(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/ws" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("token") != "tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		frames := []string{
			`{"type":"typing","userId":"u2"}`,
			`{not json`,
			`{"type":"new_message","id":"srv-1","chatId":"` + r.URL.Query().Get("chatId") + `","senderId":"u2","content":"hi","createdAt":1000}`,
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		_, _, _ = conn.ReadMessage()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := c.Subscribe(ctx, "c1", "tok")
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	evt, err := stream.Next()
	if err != nil {
		t.Fatal(err)
	}
	if evt.Type != "typing" {
		t.Errorf("first event type = %q, want typing", evt.Type)
	}

	if _, err := stream.Next(); !errors.Is(err, ErrMalformed) {
		t.Errorf("second frame: err = %v, want ErrMalformed", err)
	}

	evt, err = stream.Next()
	if err != nil {
		t.Fatal(err)
	}
	if evt.Type != EventNewMessage || evt.ID != "srv-1" || evt.CreatedAt != 1000 {
		t.Errorf("third event = %+v", evt)
	}
	if err := evt.Validate("c1"); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestSubscribeUnauthorized(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	_, err := c.Subscribe(context.Background(), "c1", "bad")
	if !IsUnauthorized(err) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v, want status in message", err)
	}
}
