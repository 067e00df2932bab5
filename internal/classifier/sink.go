package classifier

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DefaultSinkBuffer is the record buffer size used when none is configured.
const DefaultSinkBuffer = 256

// Record is one classified upstream error. The credential appears only as
// its redacted prefix.
type Record struct {
	KeyPrefix string
	Model     string
	Kind      Kind
	Code      int
	Message   string
}

// Sink drains classified error records to the log on a background goroutine.
// Emit never blocks: when the buffer is full the record is counted as
// dropped instead.
type Sink struct {
	mu      sync.RWMutex
	records chan Record
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
	logger  zerolog.Logger
}

// NewSink starts a sink draining into logger. A non-positive buffer falls
// back to DefaultSinkBuffer.
func NewSink(buffer int, logger *zerolog.Logger) *Sink {
	if buffer <= 0 {
		buffer = DefaultSinkBuffer
	}
	log := zerolog.Nop()
	if logger != nil {
		log = *logger
	}
	s := &Sink{
		records: make(chan Record, buffer),
		logger:  log,
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

// Emit queues a record for logging. Records emitted after Shutdown, or while
// the buffer is full, are dropped.
func (s *Sink) Emit(rec Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.records <- rec:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports how many records were discarded on a full buffer.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Shutdown stops the sink after draining buffered records. It is safe to
// call more than once.
func (s *Sink) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.records)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Sink) drain() {
	defer s.wg.Done()
	for rec := range s.records {
		s.logger.Warn().
			Str("key", rec.KeyPrefix).
			Str("model", rec.Model).
			Str("kind", string(rec.Kind)).
			Int("code", rec.Code).
			Str("message", rec.Message).
			Msg("upstream error")
	}
}
