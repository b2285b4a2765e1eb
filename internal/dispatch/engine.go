// Package dispatch drives SOS events from Received to Dispatched or
// DispatchFailed, orchestrating notification attempts with per-attempt
// timeouts and exponential backoff. One attempt sequence runs per session at
// a time, guarded by an in-process lock table plus storage-level CAS.
package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"sos-guardian/internal/audit"
	"sos-guardian/internal/codec"
	"sos-guardian/internal/model"
	"sos-guardian/internal/signal"
)

var (
	// ErrNotRetryable is returned by Retry for events that are not in the
	// DispatchFailed state or were cancelled.
	ErrNotRetryable = errors.New("event is not retryable")
)

type Config struct {
	MaxAttempts   int
	Backoff       BackoffConfig
	NotifyTimeout time.Duration

	// Now and Sleep are injectable for tests. Sleep must honor the context.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:   5,
		Backoff:       DefaultBackoff(),
		NotifyTimeout: 10 * time.Second,
	}
}

type Engine struct {
	store signal.Store
	sink  Sink
	audit audit.Sink
	cfg   Config

	locks *lockTable
	rng   *rand.Rand
	rngMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store signal.Store, sink Sink, auditSink audit.Sink, cfg Config) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if auditSink == nil {
		auditSink = nopAudit{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:  store,
		sink:   sink,
		audit:  auditSink,
		cfg:    cfg,
		locks:  newLockTable(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Close stops accepting work and waits for in-flight attempt sequences.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// Dispatch starts (or resumes) the attempt sequence for an event.
//
// For a replay (isNew=false) of a Dispatched event this is an idempotent
// no-op. A replay of a DispatchFailed event stays terminal; only an explicit
// Retry restarts it. In every other case a sequence is started unless one is
// already active for the session.
func (e *Engine) Dispatch(ev model.SosEvent, isNew bool) {
	if !isNew {
		if ev.Status == model.StatusDispatched || ev.Status == model.StatusDispatchFailed {
			return
		}
	}
	if !e.locks.tryAcquire(ev.SessionID) {
		return
	}
	e.wg.Add(1)
	go e.run(ev.SessionID)
}

// Retry re-triggers a DispatchFailed event. The caller gets the event as it
// stood, or ErrNotRetryable when it is not in a retryable state.
func (e *Engine) Retry(ctx context.Context, sessionID string) (model.SosEvent, error) {
	ev, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return model.SosEvent{}, err
	}
	if ev.Status != model.StatusDispatchFailed || ev.Cancelled {
		return ev, ErrNotRetryable
	}

	if !e.locks.tryAcquire(sessionID) {
		// A sequence is already active; nothing to do.
		return ev, nil
	}

	ok, err := e.store.UpdateStatus(ctx, sessionID, model.StatusDispatchFailed, model.StatusDispatching)
	if err != nil || !ok {
		e.locks.release(sessionID)
		if err != nil {
			return model.SosEvent{}, err
		}
		current, gerr := e.store.Get(ctx, sessionID)
		if gerr != nil {
			return model.SosEvent{}, gerr
		}
		return current, ErrNotRetryable
	}
	e.emit(ev, model.StatusDispatchFailed, model.StatusDispatching, ev.Attempts, "manual retry")

	e.wg.Add(1)
	go e.run(sessionID)

	ev.Status = model.StatusDispatching
	return ev, nil
}

// Cancel flags the session as a confirmed false alarm. An in-flight notify
// call may still complete but its result is discarded; no further attempt is
// made afterwards.
func (e *Engine) Cancel(ctx context.Context, sessionID string) error {
	if err := e.store.SetCancelled(ctx, sessionID); err != nil {
		return err
	}
	ev, err := e.store.Get(ctx, sessionID)
	if err == nil {
		e.emit(ev, ev.Status, ev.Status, ev.Attempts, "cancelled")
	}
	return nil
}

// run owns the session lock (acquired by the caller) and releases it on
// every exit path.
func (e *Engine) run(sessionID string) {
	defer e.wg.Done()
	defer e.locks.release(sessionID)

	ctx := e.ctx

	ev, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return
	}

	switch ev.Status {
	case model.StatusReceived:
		decoded := e.decode(ctx, ev)
		ok, err := e.store.UpdateStatus(ctx, sessionID, model.StatusReceived, decoded)
		if err != nil || !ok {
			return
		}
		e.emit(ev, model.StatusReceived, decoded, 0, "")

		ok, err = e.store.UpdateStatus(ctx, sessionID, decoded, model.StatusDispatching)
		if err != nil || !ok {
			return
		}
		e.emit(ev, decoded, model.StatusDispatching, 0, "")
	case model.StatusDecoded, model.StatusDecodeFailed:
		// Resuming after a crash between decode and dispatch.
		ok, err := e.store.UpdateStatus(ctx, sessionID, ev.Status, model.StatusDispatching)
		if err != nil || !ok {
			return
		}
		e.emit(ev, ev.Status, model.StatusDispatching, ev.Attempts, "resumed")
	case model.StatusDispatching:
		// Lock was free, so no sequence is active; pick the event back up.
	default:
		return
	}

	e.attemptLoop(ctx, sessionID, ev.Attempts)
}

// decode runs the codec and records the outcome. Decode failure never blocks
// dispatch: the raw blob stays persisted and delivery proceeds on whatever
// is known about the creator device.
func (e *Engine) decode(ctx context.Context, ev model.SosEvent) model.EventStatus {
	payload, err := codec.Decode(ev.RawBlob, e.cfg.Now())
	switch {
	case err == nil:
		_ = e.store.SetPayload(ctx, ev.SessionID, payload, "")
		return model.StatusDecoded
	case errors.Is(err, codec.ErrImplausibleTimestamp):
		// Suspect clock, plausible location: keep the payload for
		// best-effort dispatch.
		_ = e.store.SetPayload(ctx, ev.SessionID, payload, err.Error())
		return model.StatusDecodeFailed
	default:
		_ = e.store.SetPayload(ctx, ev.SessionID, nil, err.Error())
		return model.StatusDecodeFailed
	}
}

// attemptLoop runs the notify attempts of one sequence. base is the event's
// attempt count when the sequence started: every sequence (first dispatch,
// crash pick-up, manual retry) gets a full MaxAttempts budget on top of it,
// so a manual retry re-runs the whole backoff ladder rather than failing
// after a single call. The cumulative count stays in the store for audit.
func (e *Engine) attemptLoop(ctx context.Context, sessionID string, base int) {
	for {
		ev, err := e.store.Get(ctx, sessionID)
		if err != nil {
			return
		}
		if ev.Cancelled {
			e.emit(ev, ev.Status, ev.Status, ev.Attempts, "cancelled; dispatch stopped")
			return
		}

		attempt, err := e.store.IncrementAttempt(ctx, sessionID)
		if err != nil {
			return
		}
		seqAttempt := attempt - base

		notifyCtx, cancel := context.WithTimeout(ctx, e.cfg.NotifyTimeout)
		notifyErr := e.sink.Notify(notifyCtx, ev)
		cancel()

		// Discard the result if the session was cancelled mid-call.
		if current, gerr := e.store.Get(ctx, sessionID); gerr == nil && current.Cancelled {
			e.emit(current, current.Status, current.Status, attempt, "cancelled during notify; result discarded")
			return
		}

		if notifyErr == nil {
			if ok, err := e.store.UpdateStatus(ctx, sessionID, model.StatusDispatching, model.StatusDispatched); err == nil && ok {
				e.emit(ev, model.StatusDispatching, model.StatusDispatched, attempt, "")
			}
			return
		}

		e.emit(ev, model.StatusDispatching, model.StatusDispatching, attempt, "attempt failed: "+notifyErr.Error())

		if seqAttempt >= e.cfg.MaxAttempts {
			if ok, err := e.store.UpdateStatus(ctx, sessionID, model.StatusDispatching, model.StatusDispatchFailed); err == nil && ok {
				e.emit(ev, model.StatusDispatching, model.StatusDispatchFailed, attempt, "retries exhausted")
			}
			return
		}

		e.rngMu.Lock()
		delay := Delay(seqAttempt, e.cfg.Backoff, e.rng)
		e.rngMu.Unlock()
		if err := e.cfg.Sleep(ctx, delay); err != nil {
			return
		}
	}
}

func (e *Engine) emit(ev model.SosEvent, from, to model.EventStatus, attempt int, detail string) {
	e.audit.Emit(audit.Record{
		SessionID: ev.SessionID,
		DeviceID:  ev.CreatorDeviceID,
		From:      from,
		To:        to,
		Attempt:   attempt,
		Detail:    detail,
		At:        e.cfg.Now().UnixMilli(),
	})
}

type nopAudit struct{}

func (nopAudit) Emit(audit.Record) {}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
