package pty

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Signal names recognised by the writer task, mapped to their control
// character equivalent delivered over the PTY's line discipline.
type Signal string

const (
	SignalInterrupt Signal = "SIGINT"
	SignalStop      Signal = "SIGTSTP"
	SignalQuit      Signal = "SIGQUIT"
)

var signalControlChar = map[Signal]byte{
	SignalInterrupt: 0x03,
	SignalStop:      0x1A,
	SignalQuit:      0x1C,
}

// writerMsg is one of Bytes, Resize, or Signal — applied to the PTY in
// the order received by the writer task.
type writerMsg struct {
	bytes  []byte
	resize *resizeMsg
	signal Signal
}

type resizeMsg struct {
	rows, cols uint16
}

// Subscriber is one consumer of a Session's output fan-out.
type Subscriber struct {
	ID string
	Ch chan []byte
}

// Session is one long-lived PTY fanned out to any number of subscribers,
// with at most one active input-producing client at a time.
type Session struct {
	id   string
	term *Terminal

	mu          sync.Mutex
	subscribers map[string]*Subscriber
	activeInput string // subscriber ID promoted to produce input; "" if none

	writerCh chan writerMsg
	cancel   context.CancelFunc
	done     chan struct{}

	onExit func(sessionID string, exitCode int)
}

// Registry owns every attached PTY Session, keyed by session ID.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Attach spawns argv (e.g. an execution backend's attach_command) under a
// fresh PTY and registers it under sessionID. onExit is invoked exactly
// once, after the child-wait task observes process exit.
func (r *Registry) Attach(sessionID string, opts Options, onExit func(sessionID string, exitCode int)) (*Session, error) {
	r.mu.Lock()
	if _, exists := r.sessions[sessionID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("pty already attached: %s", sessionID)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:          sessionID,
		subscribers: make(map[string]*Subscriber),
		writerCh:    make(chan writerMsg, 256),
		cancel:      cancel,
		done:        make(chan struct{}),
		onExit:      onExit,
	}

	term, err := Start(opts, s.broadcast)
	if err != nil {
		cancel()
		return nil, err
	}
	s.term = term

	go s.writerTask(ctx)
	go s.childWaitTask()

	r.mu.Lock()
	r.sessions[sessionID] = s
	r.mu.Unlock()

	return s, nil
}

func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Detach removes and tears down a session (used by session delete/cleanup).
func (r *Registry) Detach(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if ok {
		s.Stop()
	}
}

// StopAll tears down every attached PTY; used on daemon shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}

func (s *Session) broadcast(data []byte) {
	s.mu.Lock()
	subs := make([]*Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.Ch <- data:
		default:
			slog.Warn("pty subscriber channel full, dropping output", "session_id", s.id, "subscriber_id", sub.ID)
		}
	}
}

// Subscribe registers a new output consumer and returns its ID (if not
// provided) and channel. The first subscriber is auto-promoted to the
// active input producer; later callers must call PromoteInput explicitly.
func (s *Session) Subscribe() *Subscriber {
	sub := &Subscriber{ID: uuid.NewString(), Ch: make(chan []byte, 256)}

	s.mu.Lock()
	first := len(s.subscribers) == 0
	s.subscribers[sub.ID] = sub
	if first {
		s.activeInput = sub.ID
	}
	s.mu.Unlock()

	return sub
}

// Unsubscribe removes a consumer. If it was the active input producer,
// no other subscriber is auto-promoted — input is dropped until an
// explicit PromoteInput call.
func (s *Session) Unsubscribe(subscriberID string) {
	s.mu.Lock()
	delete(s.subscribers, subscriberID)
	if s.activeInput == subscriberID {
		s.activeInput = ""
	}
	s.mu.Unlock()
}

// PromoteInput makes subscriberID the sole active input producer.
func (s *Session) PromoteInput(subscriberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[subscriberID]; !ok {
		return fmt.Errorf("unknown subscriber: %s", subscriberID)
	}
	s.activeInput = subscriberID
	return nil
}

// Input queues bytes from subscriberID. Input from a client that is not
// the active producer is silently dropped, per the fan-out contract.
func (s *Session) Input(subscriberID string, data []byte) {
	s.mu.Lock()
	active := s.activeInput == subscriberID
	s.mu.Unlock()
	if !active {
		return
	}
	select {
	case s.writerCh <- writerMsg{bytes: data}:
	default:
		slog.Warn("pty writer channel full, dropping input", "session_id", s.id)
	}
}

// InjectInput queues bytes directly to the PTY, bypassing the active
// input-producer check. Used by the daemon itself (e.g. streaming a
// prompt into the session from a hotkey), never by an external client.
func (s *Session) InjectInput(data []byte) {
	select {
	case s.writerCh <- writerMsg{bytes: data}:
	default:
		slog.Warn("pty writer channel full, dropping injected input", "session_id", s.id)
	}
}

// Resize applies a resize from any subscriber (any attached client may
// resize; the registry keeps the canonical rows/cols).
func (s *Session) Resize(rows, cols uint16) {
	select {
	case s.writerCh <- writerMsg{resize: &resizeMsg{rows: rows, cols: cols}}:
	default:
	}
}

// SendSignal queues a signal to be translated to its control character.
func (s *Session) SendSignal(sig Signal) {
	select {
	case s.writerCh <- writerMsg{signal: sig}:
	default:
	}
}

func (s *Session) writerTask(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.writerCh:
			switch {
			case msg.bytes != nil:
				if err := s.term.SendInput(msg.bytes); err != nil {
					slog.Debug("pty write error", "session_id", s.id, "error", err)
				}
			case msg.resize != nil:
				if err := s.term.Resize(msg.resize.cols, msg.resize.rows); err != nil {
					slog.Debug("pty resize error", "session_id", s.id, "error", err)
				}
			case msg.signal != "":
				c, ok := signalControlChar[msg.signal]
				if !ok {
					slog.Warn("unsupported pty signal", "session_id", s.id, "signal", msg.signal)
					continue
				}
				if err := s.term.SendInput([]byte{c}); err != nil {
					slog.Debug("pty signal write error", "session_id", s.id, "error", err)
				}
			}
		}
	}
}

func (s *Session) childWaitTask() {
	exitCode := s.term.Wait()
	close(s.done)
	if s.onExit != nil {
		s.onExit(s.id, exitCode)
	}
}

// Stop cancels the writer task and best-effort kills the child, then
// waits up to the caller's patience (the child-wait task always
// completes once the process exits or is killed).
func (s *Session) Stop() {
	s.cancel()
	s.term.Stop()
	<-s.done
}

// ScreenSnapshot returns the buffered output for late-attaching clients.
func (s *Session) ScreenSnapshot() []byte {
	return s.term.ScreenSnapshot()
}

// IsExited reports whether the underlying process has exited.
func (s *Session) IsExited() bool {
	return s.term.IsExited()
}
