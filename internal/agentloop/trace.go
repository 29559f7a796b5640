package agentloop

import "sync"

// Phase names one step of a turn's lifecycle for tracing: a pure
// observability signal, not a behavior switch.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseStream       Phase = "stream"
	PhaseExecuteTools Phase = "execute_tools"
	PhaseContinue     Phase = "continue"
	PhaseComplete     Phase = "complete"
)

// TraceEvent records one phase transition for a session's turn.
type TraceEvent struct {
	SessionID string
	Phase     Phase
	Iteration int
}

// TraceSink keeps the most recent phase transitions in memory, readable via
// Recent; no gateway route reports them. Nil receiver is a valid no-op sink.
type TraceSink struct {
	mu       sync.Mutex
	recent   []TraceEvent
	capacity int
}

// NewTraceSink returns a sink retaining the last capacity events.
func NewTraceSink(capacity int) *TraceSink {
	if capacity <= 0 {
		capacity = 200
	}
	return &TraceSink{capacity: capacity}
}

func (s *TraceSink) record(sessionID string, phase Phase, iteration int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, TraceEvent{SessionID: sessionID, Phase: phase, Iteration: iteration})
	if len(s.recent) > s.capacity {
		s.recent = s.recent[len(s.recent)-s.capacity:]
	}
}

// Recent returns a copy of the most recently recorded events.
func (s *TraceSink) Recent() []TraceEvent {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TraceEvent, len(s.recent))
	copy(out, s.recent)
	return out
}
