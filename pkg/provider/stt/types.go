package stt

import "time"

// Transcript is one recognition result. Partials and finals share the type;
// IsFinal tells them apart.
type Transcript struct {
	// Text is what the recognizer heard.
	Text string

	// IsFinal marks the authoritative transcript of an utterance. Partials
	// are provisional and may be revised by later emissions.
	IsFinal bool

	// Confidence scores the result in [0, 1]; zero when the backend reports
	// none.
	Confidence float64

	// Timestamp is the utterance start relative to session start.
	Timestamp time.Duration

	// Duration is the spoken length of the utterance.
	Duration time.Duration
}
