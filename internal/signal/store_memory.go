package signal

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"sos-guardian/internal/model"
)

// memoryStore keeps events in maps guarded by a RWMutex. With a state file
// configured every mutation is snapshotted to disk with an atomic
// temp-file-and-rename write, so events survive a restart.
type memoryStore struct {
	mu        sync.RWMutex
	persistMu sync.Mutex

	stateFile string
	now       func() time.Time

	eventsBySession      map[string]model.SosEvent
	sessionByFingerprint map[string]string
}

type MemoryOptions struct {
	StateFile string
	Now       func() time.Time
}

func NewMemoryStore() Store {
	return NewMemoryStoreWithOptions(MemoryOptions{})
}

func NewMemoryStoreWithOptions(opts MemoryOptions) Store {
	s := &memoryStore{
		stateFile:            opts.StateFile,
		now:                  opts.Now,
		eventsBySession:      make(map[string]model.SosEvent),
		sessionByFingerprint: make(map[string]string),
	}
	if s.now == nil {
		s.now = time.Now
	}

	if s.stateFile != "" {
		if err := s.loadFromFile(s.stateFile); err != nil {
			log.Printf("events persistence: load failed (%s): %v", s.stateFile, err)
		}
	}

	return s
}

type persistedEventsFile struct {
	Version int              `json:"version"`
	Events  []model.SosEvent `json:"events"`
	SavedAt int64            `json:"savedAt"`
}

func (s *memoryStore) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var file persistedEventsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.Version != 1 {
		return errors.New("unsupported events state version")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range file.Events {
		if ev.SessionID == "" || ev.Fingerprint == "" {
			continue
		}
		s.eventsBySession[ev.SessionID] = ev
		s.sessionByFingerprint[ev.Fingerprint] = ev.SessionID
	}
	return nil
}

func (s *memoryStore) snapshotLocked() []model.SosEvent {
	if s.stateFile == "" {
		return nil
	}
	result := make([]model.SosEvent, 0, len(s.eventsBySession))
	for _, ev := range s.eventsBySession {
		result = append(result, ev)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SessionID < result[j].SessionID })
	return result
}

func (s *memoryStore) persistSnapshot(events []model.SosEvent) {
	path := s.stateFile
	if path == "" || events == nil {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Printf("events persistence: mkdir failed (%s): %v", dir, err)
		return
	}

	file := persistedEventsFile{Version: 1, Events: events, SavedAt: s.now().UnixMilli()}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		log.Printf("events persistence: marshal failed: %v", err)
		return
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		log.Printf("events persistence: create temp failed: %v", err)
		return
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		log.Printf("events persistence: chmod temp failed: %v", err)
		return
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		log.Printf("events persistence: write temp failed: %v", err)
		return
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		log.Printf("events persistence: sync temp failed: %v", err)
		return
	}
	if err := tmp.Close(); err != nil {
		log.Printf("events persistence: close temp failed: %v", err)
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		log.Printf("events persistence: rename failed: %v", err)
	}
}

func (s *memoryStore) Ingest(_ context.Context, fingerprint, sessionID, deviceID, blob string) (model.SosEvent, bool, error) {
	if fingerprint == "" || sessionID == "" {
		return model.SosEvent{}, false, errors.New("missing fingerprint or session id")
	}

	s.mu.Lock()

	if sid, ok := s.sessionByFingerprint[fingerprint]; ok {
		ev := s.eventsBySession[sid]
		s.mu.Unlock()
		return ev, false, nil
	}

	now := s.now().UnixMilli()
	ev := model.SosEvent{
		SessionID:       sessionID,
		Fingerprint:     fingerprint,
		CreatorDeviceID: deviceID,
		RawBlob:         blob,
		Status:          model.StatusReceived,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.eventsBySession[sessionID] = ev
	s.sessionByFingerprint[fingerprint] = sessionID
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persistSnapshot(snapshot)
	return ev, true, nil
}

func (s *memoryStore) Get(_ context.Context, sessionID string) (model.SosEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.eventsBySession[sessionID]
	if !ok {
		return model.SosEvent{}, ErrNotFound
	}
	return ev, nil
}

func (s *memoryStore) UpdateStatus(_ context.Context, sessionID string, from, to model.EventStatus) (bool, error) {
	s.mu.Lock()

	ev, ok := s.eventsBySession[sessionID]
	if !ok {
		s.mu.Unlock()
		return false, ErrNotFound
	}
	if ev.Status != from {
		s.mu.Unlock()
		return false, nil
	}

	ev.Status = to
	ev.UpdatedAt = s.now().UnixMilli()
	s.eventsBySession[sessionID] = ev
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persistSnapshot(snapshot)
	return true, nil
}

func (s *memoryStore) IncrementAttempt(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()

	ev, ok := s.eventsBySession[sessionID]
	if !ok {
		s.mu.Unlock()
		return 0, ErrNotFound
	}

	ev.Attempts++
	ev.UpdatedAt = s.now().UnixMilli()
	s.eventsBySession[sessionID] = ev
	count := ev.Attempts
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persistSnapshot(snapshot)
	return count, nil
}

func (s *memoryStore) SetPayload(_ context.Context, sessionID string, payload *model.DecodedPayload, note string) error {
	s.mu.Lock()

	ev, ok := s.eventsBySession[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}

	ev.Payload = payload
	ev.DecodeNote = note
	ev.UpdatedAt = s.now().UnixMilli()
	s.eventsBySession[sessionID] = ev
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persistSnapshot(snapshot)
	return nil
}

func (s *memoryStore) SetCancelled(_ context.Context, sessionID string) error {
	s.mu.Lock()

	ev, ok := s.eventsBySession[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}

	ev.Cancelled = true
	ev.UpdatedAt = s.now().UnixMilli()
	s.eventsBySession[sessionID] = ev
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persistSnapshot(snapshot)
	return nil
}

func (s *memoryStore) ListByStatus(_ context.Context, status model.EventStatus) ([]model.SosEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.SosEvent, 0)
	for _, ev := range s.eventsBySession {
		if ev.Status == status {
			result = append(result, ev)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt > result[j].UpdatedAt })
	return result, nil
}

func (s *memoryStore) ListByDevice(_ context.Context, deviceID string) ([]model.SosEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.SosEvent, 0)
	for _, ev := range s.eventsBySession {
		if ev.CreatorDeviceID == deviceID {
			result = append(result, ev)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt > result[j].UpdatedAt })
	return result, nil
}
