package hub

import (
	"context"
	"encoding/json"
	"sync"

	"sos-guardian/internal/audit"
)

// DeviceResolver maps a creator device to the identity that registered it.
type DeviceResolver interface {
	ResolveDevice(ctx context.Context, deviceID string) (identityID string, err error)
}

const statusQueueSize = 256

// StatusSink is an audit sink that pushes each status transition to the
// websocket connections of the event creator's identity. Pushes are drained
// by a single worker goroutine behind a bounded queue: dispatch must never
// block on a slow websocket peer, so a full queue drops the record.
// Unresolvable devices are skipped.
type StatusSink struct {
	Hub      *Hub
	Resolver DeviceResolver

	start sync.Once
	queue chan audit.Record
}

type statusMessage struct {
	Type string       `json:"type"`
	Body audit.Record `json:"body"`
}

func (s *StatusSink) Emit(rec audit.Record) {
	if rec.DeviceID == "" {
		return
	}
	s.start.Do(func() {
		s.queue = make(chan audit.Record, statusQueueSize)
		go s.pump()
	})

	select {
	case s.queue <- rec:
	default:
	}
}

func (s *StatusSink) pump() {
	for rec := range s.queue {
		s.push(rec)
	}
}

func (s *StatusSink) push(rec audit.Record) {
	identityID, err := s.Resolver.ResolveDevice(context.Background(), rec.DeviceID)
	if err != nil {
		return
	}

	out, err := json.Marshal(statusMessage{Type: "sos-status", Body: rec})
	if err != nil {
		return
	}
	s.Hub.Broadcast(identityID, out)
}
