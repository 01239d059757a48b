// Package telemetry emits one event per gateway request, fire-and-forget.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event describes a single handled request. Status and timing reflect what
// the caller saw, not what the upstream returned on a cache hit.
type Event struct {
	ID         string        `json:"id"`
	Method     string        `json:"method"`
	Path       string        `json:"path"`
	Route      string        `json:"route,omitempty"`
	Status     int           `json:"status"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"execution_time_ms"`
	CacheHit   bool          `json:"cache_hit"`
	CallerID   string        `json:"caller_id,omitempty"`
	ClientIP   string        `json:"client_ip"`
	UserAgent  string        `json:"user_agent"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Sink receives emitted events. Implementations must not block; slow
// consumers should buffer or drop internally.
type Sink interface {
	Consume(event Event)
}

// Service collects events from the request pipeline and fans them out to
// sinks on a background goroutine.
type Service interface {
	Start(ctx context.Context) error
	Stop() error
	Emit(event Event)
	AddSink(sink Sink)
}

// service implements Service.
type service struct {
	log    logrus.FieldLogger
	events chan Event

	mu    sync.RWMutex
	sinks []Sink

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Ensure service implements Service.
var _ Service = (*service)(nil)

// NewService creates a telemetry service with the given buffer size.
func NewService(log logrus.FieldLogger, bufferSize int) Service {
	return &service{
		log:    log.WithField("component", "telemetry"),
		events: make(chan Event, bufferSize),
	}
}

// Start launches the fan-out loop.
func (s *service) Start(ctx context.Context) error {
	s.log.Info("Starting telemetry service")

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)

	go s.loop(ctx)

	return nil
}

// Stop stops the fan-out loop. Buffered events still in the channel are
// dropped; telemetry is best-effort by contract.
func (s *service) Stop() error {
	s.log.Info("Stopping telemetry service")

	if s.cancel != nil {
		s.cancel()
	}

	s.wg.Wait()

	return nil
}

// AddSink registers a consumer for future events.
func (s *service) AddSink(sink Sink) {
	s.mu.Lock()
	s.sinks = append(s.sinks, sink)
	s.mu.Unlock()
}

// Emit queues an event without blocking the request path. When the buffer is
// full the event is dropped and counted in the log.
func (s *service) Emit(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	event.DurationMS = event.Duration.Milliseconds()

	select {
	case s.events <- event:
	default:
		s.log.Warn("Telemetry buffer full, dropping event")
	}
}

// loop logs each event and forwards it to all sinks.
func (s *service) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.events:
			s.log.WithFields(logrus.Fields{
				"method":    event.Method,
				"path":      event.Path,
				"status":    event.Status,
				"duration":  event.Duration,
				"cache_hit": event.CacheHit,
				"caller":    event.CallerID,
				"client_ip": event.ClientIP,
			}).Info("Request handled")

			s.mu.RLock()
			sinks := s.sinks
			s.mu.RUnlock()

			for _, sink := range sinks {
				sink.Consume(event)
			}
		}
	}
}
