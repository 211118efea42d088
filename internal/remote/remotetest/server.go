// Package remotetest provides an in-memory chat server speaking the remote
// HTTP and websocket contract, for tests.
package remotetest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatsync/internal/remote"
)

// Record is a message as stored by the server.
type Record struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	SenderID  string `json:"senderId"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
}

type event struct {
	Type string `json:"type"`
	Record
}

// Server is a fake chat server. Messages get ids srv-1, srv-2, ... and
// createdAt values 1000, 2000, ...
type Server struct {
	*httptest.Server

	token    string
	upgrader websocket.Upgrader

	mu       sync.Mutex
	seq      int64
	messages map[string][]Record
	subs     map[string][]*subscriber
	offline  bool
	reject   map[string]int
	posts    int
}

type subscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewServer starts a server accepting the given bearer token.
func NewServer(token string) *Server {
	s := &Server{
		token:    token,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		messages: make(map[string][]Record),
		subs:     make(map[string][]*subscriber),
		reject:   make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/message", s.handleCreate)
	mux.HandleFunc("GET /chat/messages/{chatId}", s.handleList)
	mux.HandleFunc("GET /chat/ws", s.handleSocket)
	s.Server = httptest.NewServer(mux)
	return s
}

// SetOffline makes every HTTP request fail with 503 while on.
func (s *Server) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
}

// Reject answers pushes of the given content with status code.
func (s *Server) Reject(content string, code int) {
	s.mu.Lock()
	s.reject[content] = code
	s.mu.Unlock()
}

// Posts returns the number of accepted pushes.
func (s *Server) Posts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts
}

// Messages returns the stored messages of a chat in creation order.
func (s *Server) Messages(chatID string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages[chatID])
}

// Subscribers returns the number of open sockets for a chat.
func (s *Server) Subscribers(chatID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[chatID])
}

// Post stores a message from another participant and broadcasts it.
func (s *Server) Post(chatID, senderID, content string) Record {
	s.mu.Lock()
	rec := s.insert(chatID, senderID, content)
	subs := slices.Clone(s.subs[chatID])
	s.mu.Unlock()

	s.broadcast(subs, rec)
	return rec
}

func (s *Server) insert(chatID, senderID, content string) Record {
	s.seq++
	rec := Record{
		ID:        "srv-" + strconv.FormatInt(s.seq, 10),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: s.seq * 1000,
	}
	s.messages[chatID] = append(s.messages[chatID], rec)
	return rec
}

func (s *Server) broadcast(subs []*subscriber, rec Record) {
	data, _ := json.Marshal(event{Type: remote.EventNewMessage, Record: rec})
	for _, sub := range subs {
		sub.mu.Lock()
		_ = sub.conn.WriteMessage(websocket.TextMessage, data)
		sub.mu.Unlock()
	}
}

func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	offline := s.offline
	s.mu.Unlock()
	if offline {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return false
	}
	if r.Header.Get("Authorization") != "Bearer "+s.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	var req struct {
		ChatID  string `json:"chatId"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if code, ok := s.reject[req.Content]; ok {
		s.mu.Unlock()
		http.Error(w, "rejected", code)
		return
	}
	s.posts++
	rec := s.insert(req.ChatID, "me", req.Content)
	subs := slices.Clone(s.subs[req.ChatID])
	s.mu.Unlock()

	s.broadcast(subs, rec)
	writeJSON(w, rec)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	chatID := r.PathValue("chatId")

	s.mu.Lock()
	out := make([]Record, 0)
	for _, rec := range s.messages[chatID] {
		if rec.CreatedAt > after {
			out = append(out, rec)
		}
	}
	s.mu.Unlock()

	// Newest first; clients must not rely on order.
	slices.Reverse(out)
	writeJSON(w, out)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") != s.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	chatID := r.URL.Query().Get("chatId")
	if strings.TrimSpace(chatID) == "" {
		http.Error(w, "chatId required", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := &subscriber{conn: conn}
	s.mu.Lock()
	s.subs[chatID] = append(s.subs[chatID], sub)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.subs[chatID] = slices.DeleteFunc(s.subs[chatID], func(o *subscriber) bool { return o == sub })
		s.mu.Unlock()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("encode: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
