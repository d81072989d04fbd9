package vapiwebhook

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/ringwise/ringwise-backend/pkg/errors"
)

// maxCallDuration bounds a single reported call. Longer durations are
// rejected rather than billed.
const maxCallDuration = 24 * time.Hour

var callEndedTypes = map[string]struct{}{
	"end-of-call-report": {},
	"call-ended":         {},
	"call.ended":         {},
	"call.completed":     {},
}

// Event is the subset of the provider's call report the pipeline reads.
// Report-level fields are used when the call object leaves them empty.
type Event struct {
	Type            string      `json:"type"`
	Call            CallInfo    `json:"call"`
	PhoneNumber     PhoneInfo   `json:"phoneNumber"`
	Customer        Customer    `json:"customer"`
	DurationSeconds *float64    `json:"durationSeconds"`
	ReportRecording string      `json:"recordingUrl"`
	Transcript      string      `json:"transcript"`
	Summary         string      `json:"summary"`
	StartedAt       *time.Time  `json:"startedAt"`
	EndedAt         *time.Time  `json:"endedAt"`
	Artifact        ArtifactRef `json:"artifact"`
}

type CallInfo struct {
	ID           string     `json:"id"`
	Duration     *float64   `json:"duration"`
	StartedAt    *time.Time `json:"startedAt"`
	EndedAt      *time.Time `json:"endedAt"`
	Transcript   string     `json:"transcript"`
	RecordingURL string     `json:"recordingUrl"`
	Summary      string     `json:"summary"`
	Customer     Customer   `json:"customer"`
}

type PhoneInfo struct {
	Number string `json:"number"`
}

type Customer struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

type ArtifactRef struct {
	RecordingURL string `json:"recordingUrl"`
	Transcript   string `json:"transcript"`
}

type envelope struct {
	Message *json.RawMessage `json:"message"`
}

// ParseEvent decodes the flat report or one wrapped in a "message" object.
func ParseEvent(body []byte) (*Event, error) {
	var wrapper envelope
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload")
	}
	raw := body
	if wrapper.Message != nil && len(*wrapper.Message) > 0 && (*wrapper.Message)[0] == '{' {
		raw = *wrapper.Message
	}
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload")
	}
	return &event, nil
}

// IsCallEnded reports whether the event should be billed.
func (e *Event) IsCallEnded() bool {
	_, ok := callEndedTypes[strings.ToLower(strings.TrimSpace(e.Type))]
	return ok
}

func (e *Event) ProviderCallID() string { return strings.TrimSpace(e.Call.ID) }

func (e *Event) DialedNumber() string { return strings.TrimSpace(e.PhoneNumber.Number) }

// Seconds returns the raw call duration. Negative and non-finite values count
// as zero; durations above maxCallDuration are a validation error.
func (e *Event) Seconds() (float64, error) {
	var seconds float64
	switch {
	case e.Call.Duration != nil:
		seconds = *e.Call.Duration
	case e.DurationSeconds != nil:
		seconds = *e.DurationSeconds
	default:
		start, end := e.startedAt(), e.endedAt()
		if start != nil && end != nil {
			seconds = end.Sub(*start).Seconds()
		}
	}
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, nil
	}
	if seconds > maxCallDuration.Seconds() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "call duration out of range").
			WithDetails(map[string]any{"maxSeconds": int(maxCallDuration.Seconds())})
	}
	return seconds, nil
}

func (e *Event) RecordingURL() string {
	return firstNonEmpty(e.Call.RecordingURL, e.ReportRecording, e.Artifact.RecordingURL)
}

func (e *Event) TranscriptText() string {
	return firstNonEmpty(e.Call.Transcript, e.Transcript, e.Artifact.Transcript)
}

func (e *Event) SummaryText() string {
	return firstNonEmpty(e.Call.Summary, e.Summary)
}

func (e *Event) Caller() Customer {
	if e.Call.Customer.Number != "" || e.Call.Customer.Name != "" {
		return e.Call.Customer
	}
	return e.Customer
}

func (e *Event) startedAt() *time.Time {
	if e.Call.StartedAt != nil {
		return e.Call.StartedAt
	}
	return e.StartedAt
}

func (e *Event) endedAt() *time.Time {
	if e.Call.EndedAt != nil {
		return e.Call.EndedAt
	}
	return e.EndedAt
}

// BilledMinutes rounds the duration up to whole minutes, capped at
// maxCallDuration.
func BilledMinutes(seconds float64) int {
	if seconds <= 0 || math.IsNaN(seconds) {
		return 0
	}
	return int(math.Ceil(math.Min(seconds, maxCallDuration.Seconds()) / 60))
}

// ProviderCost is seconds/60 * rate rounded to 4 decimal places.
func ProviderCost(seconds float64, rate decimal.Decimal) decimal.Decimal {
	if seconds <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(seconds).Div(decimal.NewFromInt(60)).Mul(rate).Round(4)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
