package turn

// State is the engine lifecycle state. Transitions are driven by the
// controller: utterances move Listening through Processing and Speaking and
// back, Pause and Stop are external, and fatal pipeline failures land in
// Error.
type State int

const (
	// StateIdle means the engine is constructed but not running.
	StateIdle State = iota

	// StateListening means recognition is live on the active side.
	StateListening

	// StateProcessing means a flushed utterance is being translated.
	StateProcessing

	// StateSpeaking means the translation is being rendered as audio.
	StateSpeaking

	// StatePaused means monitoring and recognition are stopped and any
	// speech in progress is held at a chunk boundary.
	StatePaused

	// StateError means a fatal failure tore the pipeline down. Recoverable
	// failures schedule a restart; the rest wait for Stop.
	StateError
)

// String returns the stable name used in logs, metrics, and the status feed.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
