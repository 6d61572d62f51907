package domain

// StreamID is the opaque token correlating every event of one launched request.
type StreamID string

// CanonicalEvent is the vendor-independent event pushed to the sink.
// Error implies Done; once Done is emitted no further events follow for StreamID.
type CanonicalEvent struct {
	StreamID StreamID `json:"stream_id"`
	Delta    string   `json:"delta"`
	Done     bool     `json:"done"`
	Error    *string  `json:"error,omitempty"`
}

// IsTerminal reports whether the event ends its stream.
func (e CanonicalEvent) IsTerminal() bool { return e.Done }

// ErrorText returns the error message or "" when absent.
func (e CanonicalEvent) ErrorText() string {
	if e.Error == nil {
		return ""
	}
	return *e.Error
}

// DeltaEvent builds a non-terminal event.
func DeltaEvent(id StreamID, delta string) CanonicalEvent {
	return CanonicalEvent{StreamID: id, Delta: delta}
}

// DoneEvent builds a successful terminal event.
func DoneEvent(id StreamID) CanonicalEvent {
	return CanonicalEvent{StreamID: id, Done: true}
}

// ErrorEvent builds a failed terminal event.
func ErrorEvent(id StreamID, msg string) CanonicalEvent {
	return CanonicalEvent{StreamID: id, Done: true, Error: &msg}
}

// VendorChunk is one decoded line payload. Deltas are in encounter order and
// may contain empty strings; the canonicalizer drops those.
type VendorChunk struct {
	Deltas []string
	Done   bool
}

// StreamPhase is a stream's position in its lifecycle:
// Launched → Connecting → {Streaming | BatchParsing} → Done | Failed.
// Done and Failed are absorbing.
type StreamPhase int

const (
	PhaseLaunched StreamPhase = iota
	PhaseConnecting
	PhaseStreaming
	PhaseBatchParsing
	PhaseDone
	PhaseFailed
)

var phaseNames = [...]string{"launched", "connecting", "streaming", "batch_parsing", "done", "failed"}

func (p StreamPhase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Terminal reports whether p is Done or Failed.
func (p StreamPhase) Terminal() bool { return p == PhaseDone || p == PhaseFailed }
