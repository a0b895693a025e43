package reporting

import (
	"context"
	"errors"
	"time"

	"mcp-hub/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// HistorySource yields a user's engine state. *hub.Hub satisfies it.
//
// Only calls still held by this process are visible; the durable record lives
// in the calls table.
type HistorySource interface {
	CallSnapshot(userID string) calls.Snapshot
}

type Service struct {
	src   HistorySource
	clock func() time.Time
}

func NewService(src HistorySource) *Service { return &Service{src: src, clock: time.Now} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.UserID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if !req.Range.zero() && !req.Range.To.IsZero() && !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.src == nil {
		return CallsSummary{}, errors.New("reporting: history source not configured")
	}
	if err := ctx.Err(); err != nil {
		return CallsSummary{}, err
	}

	snap := s.src.CallSnapshot(req.UserID)
	now := s.clock()

	recorded := make(map[string]float64, len(snap.Recordings))
	for _, r := range snap.Recordings {
		recorded[r.CallID] += r.Duration(now)
	}

	out := CallsSummary{UserID: req.UserID}
	for _, c := range snap.History {
		if !req.Range.contains(c.StartTime) {
			continue
		}
		out.TotalCalls++
		out.TotalDurationSeconds += c.Duration(now)

		switch c.Direction {
		case calls.DirectionOutbound:
			out.OutboundCalls++
		case calls.DirectionInbound:
			out.InboundCalls++
		}

		switch {
		case c.Status.Active():
			out.ActiveCalls++
		case c.AnsweredAt != nil:
			out.AnsweredCalls++
		default:
			out.MissedCalls++
		}

		if d, ok := recorded[c.ID]; ok {
			out.RecordedCalls++
			out.RecordingDurationSeconds += d
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / float64(out.TotalCalls)
	}
	return out, nil
}
