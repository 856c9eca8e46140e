// Package eventlog is the append-only observer log of ledger events.
//
// Engines emit after a mutation has committed and outside any asset lock.
// The log assigns a strictly increasing sequence number and fans each
// entry out to its sinks. Sink failures are logged and never fail the
// operation that produced the event.
package eventlog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/observability"
)

// Sink receives every emitted event, in sequence order.
type Sink interface {
	Name() string
	Append(ctx context.Context, e *domain.LedgerEvent) error
}

// Options configures a Log.
type Options struct {
	// StartSeq is the last sequence number already used. Emission continues
	// from StartSeq+1.
	StartSeq uint64
	Clock    func() int64
	Logger   *zap.Logger
	Sinks    []Sink
}

// Log assigns sequence numbers and fans events out to sinks.
type Log struct {
	mu     sync.Mutex
	seq    uint64
	now    func() int64
	sinks  []Sink
	logger *zap.Logger
}

// New creates a log.
func New(opts Options) *Log {
	if opts.Clock == nil {
		opts.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Log{
		seq:    opts.StartSeq,
		now:    opts.Clock,
		sinks:  append([]Sink(nil), opts.Sinks...),
		logger: opts.Logger.Named("eventlog"),
	}
}

// AddSink attaches a sink. Events emitted earlier are not replayed.
func (l *Log) AddSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Emit stamps e with the next sequence number (and the clock when
// Timestamp is zero) and delivers it to every sink.
func (l *Log) Emit(ctx context.Context, e domain.LedgerEvent) domain.LedgerEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	e.Seq = l.seq
	if e.Timestamp == 0 {
		e.Timestamp = l.now()
	}

	for _, s := range l.sinks {
		// each sink gets its own copy of the attrs
		ev := e
		ev.Attrs = copyAttrs(e.Attrs)
		if err := s.Append(ctx, &ev); err != nil {
			observability.RecordSinkError(s.Name())
			l.logger.Warn("event sink failed",
				zap.String("sink", s.Name()),
				zap.Uint64("seq", e.Seq),
				zap.String("kind", string(e.Kind)),
				zap.Error(err),
			)
		}
	}
	observability.RecordEvent(string(e.Kind), e.Timestamp)
	return e
}

// Seq returns the last assigned sequence number.
func (l *Log) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

func copyAttrs(attrs map[string]string) map[string]string {
	if attrs == nil {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
