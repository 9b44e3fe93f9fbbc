package types

import (
	"strings"
	"time"
)

// TimestampLayout is the second-precision wall clock format used in the event log.
const TimestampLayout = "2006-01-02 15:04:05"

// Fallback labels that guarantee an event never carries a blank field.
const (
	UnclassifiedObject = "other"
	NeutralEmotion     = "neutral"
)

// Frame is a single JPEG image pulled from the capture source.
type Frame struct {
	Index      int
	Data       []byte
	CapturedAt time.Time
}

// Detection matches the JSON structure the worker returns for one detected region.
// Order in a detector response is significant and must be preserved.
type Detection struct {
	Name       string    `json:"name"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box"` // [x1, y1, x2, y2]
}

// EmotionResult is the worker's answer to an emotion request.
type EmotionResult struct {
	DominantEmotion string `json:"dominant_emotion"`
}

// ErrorResult captures the error object returned by Python on failure
type ErrorResult struct {
	Error string `json:"error"`
}

// Event is one classified frame, written to the log in emission order.
type Event struct {
	Timestamp time.Time
	Object    string
	Emotion   string
}

// NormalizeLabel lowercases and trims a label. Applying it twice is a no-op.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
