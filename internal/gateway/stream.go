package gateway

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/af-corp/meridian-gateway/internal/config"
	"github.com/af-corp/meridian-gateway/internal/monitor"
	"github.com/af-corp/meridian-gateway/internal/ratelimit"
	"github.com/af-corp/meridian-gateway/internal/router"
	"github.com/af-corp/meridian-gateway/internal/router/adapters"
	"github.com/af-corp/meridian-gateway/internal/telemetry"
	"github.com/af-corp/meridian-gateway/internal/types"
)

// StreamEventType tags the variants of an event delivered to a streaming
// caller.
type StreamEventType string

const (
	StreamPartial  StreamEventType = "partial"
	StreamComplete StreamEventType = "complete"
	StreamError    StreamEventType = "error"
)

// StreamEvent is one unit delivered on a session's event channel. A session
// yields zero or more partials followed by exactly one complete or error
// event; a cancelled session may end without a terminal event.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	SessionID string          `json:"session_id"`
	Text      string          `json:"text,omitempty"`
	Response  *types.Response `json:"response,omitempty"`
	Err       error           `json:"-"`
}

// Session is one live streaming generation.
type Session struct {
	ID        string
	RequestID string
	Provider  string
	Model     string

	// Events carries partials and the terminal event. Closed by the pump
	// when the session ends for any reason.
	Events chan StreamEvent

	cancel context.CancelFunc

	mu           sync.Mutex
	cancelled    bool
	lastActivity time.Time
}

func (s *Session) markActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// SessionManager owns every live stream: registration, cancellation, and the
// janitor that reaps sessions with no recent chunk activity.
type SessionManager struct {
	cfg      config.StreamingConfig
	resolver *router.Resolver
	limiter  *ratelimit.Limiter
	monitor  *monitor.Monitor
	health   *router.HealthTracker
	metrics  *telemetry.Metrics

	mu       sync.Mutex
	sessions map[string]*Session

	done chan struct{}
	wg   sync.WaitGroup
}

func NewSessionManager(
	cfg config.StreamingConfig,
	resolver *router.Resolver,
	limiter *ratelimit.Limiter,
	mon *monitor.Monitor,
	health *router.HealthTracker,
	metrics *telemetry.Metrics,
) *SessionManager {
	sm := &SessionManager{
		cfg:      cfg,
		resolver: resolver,
		limiter:  limiter,
		monitor:  mon,
		health:   health,
		metrics:  metrics,
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
	sm.wg.Add(1)
	go sm.janitor()
	return sm
}

// Open starts a streaming generation and returns the registered session. The
// provider call is admitted through the rate limiter like any other request,
// and a denial fails the open immediately. Only when the primary's stream
// cannot be established by the provider is the fallback route tried once.
func (sm *SessionManager) Open(ctx context.Context, req *types.Request) (*Session, error) {
	primary, fallback, err := sm.resolver.Resolve(req.Config)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if denied := admitProvider(sm.limiter, sm.metrics, primary.Provider); denied != nil {
		cancel()
		return nil, denied
	}

	chunks, route, err := sm.openStream(streamCtx, req, primary)
	if err != nil && fallback != nil && shouldFallback(err) {
		slog.Warn("primary stream failed, trying fallback",
			"request_id", req.RequestID,
			"primary", primary.Provider,
			"fallback", fallback.Provider,
			"error_kind", string(types.KindOf(err)),
		)
		if denied := admitProvider(sm.limiter, sm.metrics, fallback.Provider); denied != nil {
			cancel()
			return nil, denied
		}
		chunks, route, err = sm.openStream(streamCtx, req, *fallback)
	}
	if err != nil {
		cancel()
		return nil, err
	}

	session := &Session{
		ID:           uuid.NewString(),
		RequestID:    req.RequestID,
		Provider:     route.Provider,
		Model:        route.Model,
		Events:       make(chan StreamEvent, sm.cfg.EventBuffer),
		cancel:       cancel,
		lastActivity: time.Now(),
	}

	sm.mu.Lock()
	sm.sessions[session.ID] = session
	sm.mu.Unlock()
	if sm.metrics != nil {
		sm.metrics.StreamSessionStarted()
	}

	sm.wg.Add(1)
	go sm.pump(streamCtx, session, chunks)
	return session, nil
}

func (sm *SessionManager) openStream(ctx context.Context, req *types.Request, route router.Route) (<-chan adapters.Chunk, router.Route, error) {
	if !route.Adapter.SupportsStreaming() {
		return nil, route, types.NewGatewayError(types.ErrInvalidRequest, route.Provider,
			"provider does not support streaming", nil)
	}
	routed := *req
	routed.Config.Model = route.Model
	chunks, err := route.Adapter.Stream(ctx, &routed)
	if err != nil {
		sm.health.RecordFailure(route.Provider)
		return nil, route, err
	}
	return chunks, route, nil
}

// pump drains adapter chunks into session events. Accumulated text becomes
// the final response on completion; on a provider error the partial output is
// discarded. A cancelled session tracks no usage at all.
func (sm *SessionManager) pump(ctx context.Context, session *Session, chunks <-chan adapters.Chunk) {
	defer sm.wg.Done()
	defer sm.unregister(session)
	// Drain so the adapter's pump can always finish; once ctx is cancelled
	// the provider read aborts and the channel closes promptly.
	defer func() {
		for range chunks {
		}
	}()

	started := time.Now()
	var text strings.Builder

	for chunk := range chunks {
		if session.isCancelled() {
			slog.Info("stream cancelled",
				"session_id", session.ID,
				"request_id", session.RequestID,
				"provider", session.Provider,
			)
			return
		}

		switch chunk.Kind {
		case adapters.ChunkTextDelta:
			session.markActivity()
			text.WriteString(chunk.Text)
			if sm.metrics != nil {
				sm.metrics.RecordStreamChunk(session.Provider)
			}
			sm.deliver(ctx, session, StreamEvent{
				Type:      StreamPartial,
				SessionID: session.ID,
				Text:      chunk.Text,
			})

		case adapters.ChunkCompletion:
			latency := float64(time.Since(started).Milliseconds())
			resp := &types.Response{
				RequestID:    session.RequestID,
				Text:         text.String(),
				Provider:     session.Provider,
				Model:        session.Model,
				Confidence:   confidenceForStream(chunk.FinishReason),
				ProcessingMs: int64(latency),
				Metadata:     map[string]string{"finish_reason": chunk.FinishReason},
			}
			sample := monitor.Sample{
				Provider:  session.Provider,
				Model:     session.Model,
				Success:   true,
				LatencyMs: latency,
			}
			if chunk.Usage != nil {
				resp.Usage = *chunk.Usage
				sample.PromptTokens = chunk.Usage.PromptTokens
				sample.CompletionTokens = chunk.Usage.CompletionTokens
			}
			sm.health.RecordSuccess(session.Provider)
			sm.monitor.Track(ctx, sample)
			sm.deliver(ctx, session, StreamEvent{
				Type:      StreamComplete,
				SessionID: session.ID,
				Response:  resp,
			})
			return

		case adapters.ChunkError:
			sm.health.RecordFailure(session.Provider)
			sm.monitor.Track(ctx, monitor.Sample{
				Provider:  session.Provider,
				Model:     session.Model,
				Success:   false,
				LatencyMs: float64(time.Since(started).Milliseconds()),
				Err:       chunk.Err,
			})
			sm.deliver(ctx, session, StreamEvent{
				Type:      StreamError,
				SessionID: session.ID,
				Err:       chunk.Err,
			})
			return
		}
	}
}

// deliver sends an event unless the session's context ends first; a caller
// that stopped reading cannot wedge the pump.
func (sm *SessionManager) deliver(ctx context.Context, session *Session, ev StreamEvent) {
	select {
	case session.Events <- ev:
	case <-ctx.Done():
	}
}

func (sm *SessionManager) unregister(session *Session) {
	sm.mu.Lock()
	delete(sm.sessions, session.ID)
	sm.mu.Unlock()

	session.cancel()
	close(session.Events)
	if sm.metrics != nil {
		sm.metrics.StreamSessionEnded()
	}
}

// Cancel aborts a live session. The underlying provider call is cut
// immediately and no usage is tracked for the session.
func (sm *SessionManager) Cancel(id string) bool {
	sm.mu.Lock()
	session, ok := sm.sessions[id]
	sm.mu.Unlock()
	if !ok {
		return false
	}

	session.mu.Lock()
	session.cancelled = true
	session.mu.Unlock()
	session.cancel()
	return true
}

// Active returns the number of registered sessions.
func (sm *SessionManager) Active() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// janitor periodically cancels sessions with no chunk activity inside the
// staleness window.
func (sm *SessionManager) janitor() {
	defer sm.wg.Done()

	ticker := time.NewTicker(sm.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.done:
			return
		case <-ticker.C:
			sm.sweep()
		}
	}
}

func (sm *SessionManager) sweep() {
	cutoff := time.Now().Add(-sm.cfg.StaleAfter)

	sm.mu.Lock()
	var stale []*Session
	for _, session := range sm.sessions {
		session.mu.Lock()
		if session.lastActivity.Before(cutoff) && !session.cancelled {
			session.cancelled = true
			stale = append(stale, session)
		}
		session.mu.Unlock()
	}
	sm.mu.Unlock()

	for _, session := range stale {
		slog.Warn("reaping stale stream session",
			"session_id", session.ID,
			"request_id", session.RequestID,
			"provider", session.Provider,
		)
		session.cancel()
	}
}

// Close cancels every live session and stops the janitor. Blocks until all
// pumps have exited.
func (sm *SessionManager) Close() {
	close(sm.done)

	sm.mu.Lock()
	for _, session := range sm.sessions {
		session.mu.Lock()
		session.cancelled = true
		session.mu.Unlock()
		session.cancel()
	}
	sm.mu.Unlock()

	sm.wg.Wait()
}

func confidenceForStream(finishReason string) float64 {
	switch finishReason {
	case "stop":
		return 0.9
	case "length":
		return 0.6
	default:
		return 0.5
	}
}
