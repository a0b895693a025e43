package reporting

import "time"

// TimeRange filters calls by StartTime. A zero range matches everything.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) zero() bool { return r.From.IsZero() && r.To.IsZero() }

func (r TimeRange) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// CallsSummaryRequest requests aggregated call metrics for one user.
// UserID is required.
type CallsSummaryRequest struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`
}

// CallsSummary aggregates a user's call history held by this process.
type CallsSummary struct {
	UserID string `json:"user_id"`

	TotalCalls    int `json:"total_calls"`
	OutboundCalls int `json:"outbound_calls"`
	InboundCalls  int `json:"inbound_calls"`
	AnsweredCalls int `json:"answered_calls"`
	MissedCalls   int `json:"missed_calls"`
	ActiveCalls   int `json:"active_calls"`

	TotalDurationSeconds   float64 `json:"total_duration_seconds"`
	AverageDurationSeconds float64 `json:"average_duration_seconds"`

	RecordedCalls            int     `json:"recorded_calls"`
	RecordingDurationSeconds float64 `json:"recording_duration_seconds"`
}
