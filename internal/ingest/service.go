// Package ingest is the boundary between inbound SOS requests and the
// pipeline: it validates shape, derives the idempotency fingerprint, writes
// through the signal store and hands the event to the dispatcher. It owns no
// business logic beyond that contract.
package ingest

import (
	"context"
	"errors"
	"time"

	"sos-guardian/internal/model"
	"sos-guardian/internal/signal"
)

var ErrInvalidRequest = errors.New("missing device id or payload blob")

type Dispatcher interface {
	Dispatch(ev model.SosEvent, isNew bool)
}

type Service struct {
	Store        signal.Store
	Dispatcher   Dispatcher
	ReplayWindow time.Duration
	Now          func() time.Time
}

// Init ingests one SOS request. The same device retrying the same blob
// within the replay window lands on the existing event (isNew=false) and
// never triggers a second dispatch sequence.
func (s *Service) Init(ctx context.Context, deviceID, blob string) (model.SosEvent, bool, error) {
	if deviceID == "" || blob == "" {
		return model.SosEvent{}, false, ErrInvalidRequest
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	window := s.ReplayWindow
	if window <= 0 {
		window = 5 * time.Minute
	}

	fp := signal.Fingerprint(deviceID, blob, now(), window)
	ev, isNew, err := s.Store.Ingest(ctx, fp, signal.SessionID(fp), deviceID, blob)
	if err != nil {
		return model.SosEvent{}, false, err
	}

	s.Dispatcher.Dispatch(ev, isNew)
	return ev, isNew, nil
}
