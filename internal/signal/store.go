package signal

import (
	"context"
	"errors"

	"sos-guardian/internal/model"
)

var ErrNotFound = errors.New("session not found")

// Store is the minimal storage contract the pipeline is written against:
// atomic upsert, compare-and-swap status updates and atomic increments.
type Store interface {
	// Ingest upserts an event keyed by fingerprint. A replay returns the
	// existing event with isNew=false and must not modify it.
	Ingest(ctx context.Context, fingerprint, sessionID, deviceID, blob string) (ev model.SosEvent, isNew bool, err error)

	Get(ctx context.Context, sessionID string) (model.SosEvent, error)

	// UpdateStatus swaps from -> to only if the stored status still equals
	// from. A false return means a concurrent updater won; the caller must
	// re-read and decide.
	UpdateStatus(ctx context.Context, sessionID string, from, to model.EventStatus) (bool, error)

	// IncrementAttempt bumps the attempt counter and returns the new count.
	IncrementAttempt(ctx context.Context, sessionID string) (int, error)

	// SetPayload records the decode outcome. A nil payload with a note keeps
	// the forensic raw blob as the only evidence.
	SetPayload(ctx context.Context, sessionID string, payload *model.DecodedPayload, note string) error

	// SetCancelled marks the event as a confirmed false alarm. The dispatch
	// engine checks the flag before every attempt.
	SetCancelled(ctx context.Context, sessionID string) error

	// ListByStatus supports operational sweeps, e.g. of DispatchFailed events.
	ListByStatus(ctx context.Context, status model.EventStatus) ([]model.SosEvent, error)

	// ListByDevice returns every event raised by one device, newest first.
	ListByDevice(ctx context.Context, deviceID string) ([]model.SosEvent, error)
}
