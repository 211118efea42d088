package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// ErrClosed is returned by Open after CloseAll.
var ErrClosed = errors.New("live: manager closed")

// Dialer opens the event socket of a conversation. Implemented by *remote.Client.
type Dialer interface {
	Subscribe(ctx context.Context, chatID, token string) (*remote.Stream, error)
}

// Trigger schedules a background sync. Used for catch-up after a reconnect.
type Trigger interface {
	Trigger(conversationID, token string)
}

// EchoFilter recognizes live events that echo a push still waiting for its
// response. The pusher stores those itself when it confirms the message.
// Implemented by *sync.Reconciler.
type EchoFilter interface {
	InFlight(conversationID, senderID, content string) bool
}

// Options tunes reconnect behavior.
type Options struct {
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// Manager keeps one live feed connection per open conversation and writes
// every received message into the store as synced.
type Manager struct {
	dialer  Dialer
	db      *store.DB
	trigger Trigger
	echoes  EchoFilter
	bus     *bus.Bus
	logger  *zap.Logger
	opts    Options

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	listeners map[string]*listener
	closed    bool
}

type listener struct {
	conversationID string
	token          string
	cancel         context.CancelFunc
	done           chan struct{}
}

// NewManager creates a live feed manager. trigger may be nil.
func NewManager(dialer Dialer, db *store.DB, trigger Trigger, b *bus.Bus, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReconnectInitial <= 0 {
		opts.ReconnectInitial = time.Second
	}
	if opts.ReconnectMax < opts.ReconnectInitial {
		opts.ReconnectMax = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		dialer:    dialer,
		db:        db,
		trigger:   trigger,
		bus:       b,
		logger:    logger,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[string]*listener),
	}
}

// SetEchoFilter makes listeners skip events for which f reports a push in
// flight. Must be called before the first Open.
func (m *Manager) SetEchoFilter(f EchoFilter) {
	m.echoes = f
}

// Open starts listening on a conversation. Opening an already open
// conversation is a no-op. The connection lives until Close or CloseAll, not
// until ctx ends; ctx only guards the call itself.
func (m *Manager) Open(ctx context.Context, conversationID, token string) error {
	if conversationID == "" {
		return fmt.Errorf("live: conversation id required")
	}
	if token == "" {
		return fmt.Errorf("live: auth token required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.listeners[conversationID]; ok {
		return nil
	}

	lctx, cancel := context.WithCancel(m.ctx)
	l := &listener{
		conversationID: conversationID,
		token:          token,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	m.listeners[conversationID] = l
	go m.run(lctx, l)
	return nil
}

// Close stops the listener of a conversation and waits for it to exit.
func (m *Manager) Close(conversationID string) {
	m.mu.Lock()
	l, ok := m.listeners[conversationID]
	if ok {
		delete(m.listeners, conversationID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	l.cancel()
	<-l.done
}

// CloseAll stops every listener. Open fails afterwards.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	m.cancel()
	open := make([]*listener, 0, len(m.listeners))
	for id, l := range m.listeners {
		open = append(open, l)
		delete(m.listeners, id)
	}
	m.mu.Unlock()

	for _, l := range open {
		<-l.done
	}
}

// IsOpen reports whether a listener is running for the conversation.
func (m *Manager) IsOpen(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.listeners[conversationID]
	return ok
}

// OpenConversations returns the ids of conversations with a running listener.
func (m *Manager) OpenConversations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.ReconnectInitial
	b.MaxInterval = m.opts.ReconnectMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (m *Manager) run(ctx context.Context, l *listener) {
	defer close(l.done)
	defer m.forget(l)

	log := m.logger.With(zap.String("conversation_id", l.conversationID))
	bo := m.newBackOff()
	attempt := 0

	for {
		stream, err := m.dialer.Subscribe(ctx, l.conversationID, l.token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if remote.IsPermanent(err) || remote.IsUnauthorized(err) {
				log.Error("live feed rejected, giving up", zap.Error(err))
				m.publish(bus.KindLiveDisconnected, l.conversationID, attempt, 0, err.Error())
				return
			}
			attempt++
			if !m.wait(ctx, bo, l.conversationID, attempt, err) {
				return
			}
			continue
		}

		metrics.IncLiveActive()
		m.publish(bus.KindLiveConnected, l.conversationID, attempt, 0, "")
		if attempt > 0 {
			log.Info("live feed reconnected", zap.Int("attempts", attempt))
			if m.trigger != nil {
				m.trigger.Trigger(l.conversationID, l.token)
			}
		} else {
			log.Info("live feed connected")
		}
		bo.Reset()
		attempt = 0

		stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
		err = m.consume(log, l.conversationID, stream)
		stop()
		_ = stream.Close()
		metrics.DecLiveActive()

		if ctx.Err() != nil {
			m.publish(bus.KindLiveDisconnected, l.conversationID, 0, 0, "closed")
			log.Info("live feed closed")
			return
		}
		log.Warn("live feed dropped", zap.Error(err))
		m.publish(bus.KindLiveDisconnected, l.conversationID, 0, 0, err.Error())

		attempt++
		if !m.wait(ctx, bo, l.conversationID, attempt, err) {
			return
		}
	}
}

// wait sleeps for the next backoff delay. Returns false when ctx ends first.
func (m *Manager) wait(ctx context.Context, bo backoff.BackOff, conversationID string, attempt int, cause error) bool {
	delay := bo.NextBackOff()
	m.publish(bus.KindLiveReconnecting, conversationID, attempt, delay, cause.Error())
	m.logger.Debug("live feed reconnecting",
		zap.String("conversation_id", conversationID),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// consume handles events until the connection fails.
func (m *Manager) consume(log *zap.Logger, conversationID string, stream *remote.Stream) error {
	for {
		evt, err := stream.Next()
		if err != nil {
			if errors.Is(err, remote.ErrMalformed) {
				m.drop(log, conversationID, err)
				continue
			}
			return err
		}
		if evt.Type != remote.EventNewMessage {
			metrics.IncLiveEvent("ignored")
			continue
		}
		if err := evt.Validate(conversationID); err != nil {
			m.drop(log, conversationID, err)
			continue
		}

		rec := evt.Record(conversationID)
		if m.echoes != nil && m.echoes.InFlight(conversationID, rec.SenderID, rec.Content) {
			metrics.IncLiveEvent("echo")
			log.Debug("skipping echo of in-flight push", zap.String("msg_id", rec.ID))
			continue
		}
		if err := m.db.UpsertMessage(&rec); err != nil {
			log.Error("failed to store live message", zap.Error(err), zap.String("msg_id", rec.ID))
			continue
		}
		metrics.IncLiveEvent(remote.EventNewMessage)
	}
}

func (m *Manager) drop(log *zap.Logger, conversationID string, err error) {
	metrics.IncMalformed("live")
	metrics.IncLiveEvent("malformed")
	log.Warn("dropping malformed live event", zap.Error(err))
	m.publish(bus.KindLiveDropped, conversationID, 0, 0, err.Error())
}

func (m *Manager) forget(l *listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.listeners[l.conversationID]; ok && cur == l {
		delete(m.listeners, l.conversationID)
	}
}

func (m *Manager) publish(kind, conversationID string, attempt int, delay time.Duration, reason string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload: bus.LiveState{
			ConversationID: conversationID,
			Attempt:        attempt,
			Delay:          delay,
			Reason:         reason,
		},
	})
}
