// Package audit is the observability hook for the dispatch pipeline: a
// structured record is emitted on every status transition, keeping logging
// out of the business logic.
package audit

import (
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"

	"sos-guardian/internal/model"
)

type Record struct {
	SessionID string            `json:"session_id"`
	DeviceID  string            `json:"device_id,omitempty"`
	From      model.EventStatus `json:"from,omitempty"`
	To        model.EventStatus `json:"to"`
	Attempt   int               `json:"attempt,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	At        int64             `json:"at"`
}

// Sink receives transition records. Implementations must be safe for
// concurrent use and must not block dispatch.
type Sink interface {
	Emit(rec Record)
}

// LogSink writes one JSON line per transition.
type LogSink struct {
	base *log.Logger
}

func NewLogSink(w io.Writer) *LogSink {
	return &LogSink{base: log.New(w, "", 0)}
}

func (s *LogSink) Emit(rec Record) {
	if rec.At == 0 {
		rec.At = time.Now().UnixMilli()
	}
	line, err := json.Marshal(struct {
		TS   string `json:"ts"`
		Kind string `json:"kind"`
		Record
	}{time.UnixMilli(rec.At).UTC().Format(time.RFC3339Nano), "sos_transition", rec})
	if err != nil {
		log.Printf("audit: marshal failed: %v", err)
		return
	}
	s.base.Print(string(line))
}

// MemorySink retains records for inspection in tests.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// MultiSink fans a record out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(rec Record) {
	for _, s := range m {
		s.Emit(rec)
	}
}
