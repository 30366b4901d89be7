package ashnlp

import "time"

// ClassifierResult is what an external classifier implementation returns:
// a label vocabulary with a probability for each class. It mirrors
// internal/wrapper.RawResult field-for-field so New's adapter can convert
// between them without either side importing the other.
type ClassifierResult struct {
	Label  string
	Scores map[string]float64
}

// AlertEvent is a breaker-state-transition notification delivered to an
// AlertSink. It mirrors internal/alerting.Event with the model name as a
// plain string, so this package has no internal/model import.
type AlertEvent struct {
	Model string
	Kind  string
	At    time.Time
}
