// Package callflow drives a survey call from creation to completion.
//
// Every webhook, whatever backend it comes from, is normalized into an event and applied
// here. Events for one call are serialized through a per-call lock; events for different
// calls never block each other. Working state lives in the correlation cache and is
// mirrored best effort into the durable gateway, so a call proceeds while the database is
// unavailable.
package callflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"survey-caller/internal/calls"
	"survey-caller/internal/correlation"
	"survey-caller/internal/dispatch"
	"survey-caller/internal/records"
)

var (
	ErrInvalidPhone       = errors.New("callflow: invalid phone number")
	ErrNoQuestions        = errors.New("callflow: no valid questions")
	ErrUnknownBackend     = errors.New("callflow: unknown backend")
	ErrDispatch           = errors.New("callflow: dispatch failed")
	ErrUnknownCall        = errors.New("callflow: unknown call")
	ErrSlotOutOfRange     = errors.New("callflow: question sequence out of range")
	ErrUnrecognizedStatus = errors.New("callflow: unrecognized provider status")
	ErrStateWrite         = errors.New("callflow: call state not saved")
)

const defaultDispatchTimeout = 10 * time.Second

type Options struct {
	Cache       *correlation.Cache
	Records     records.Gateway
	Dispatchers dispatch.Registry
	// Limiter is optional; nil means no concurrency caps.
	Limiter dispatch.Limiter
	IDs     *calls.Sequence

	DispatchTimeout time.Duration
	DefaultBackend  calls.Backend

	Now    func() time.Time
	Logger *slog.Logger
}

type Engine struct {
	cache       *correlation.Cache
	records     records.Gateway
	dispatchers dispatch.Registry
	limiter     dispatch.Limiter
	ids         *calls.Sequence

	dispatchTimeout time.Duration
	defaultBackend  calls.Backend

	now   func() time.Time
	log   *slog.Logger
	locks keyedMutex
}

func New(opts Options) *Engine {
	e := &Engine{
		cache:           opts.Cache,
		records:         opts.Records,
		dispatchers:     opts.Dispatchers,
		limiter:         opts.Limiter,
		ids:             opts.IDs,
		dispatchTimeout: opts.DispatchTimeout,
		defaultBackend:  opts.DefaultBackend,
		now:             opts.Now,
		log:             opts.Logger,
		locks:           keyedMutex{locks: map[int64]*refLock{}},
	}
	if e.dispatchTimeout <= 0 {
		e.dispatchTimeout = defaultDispatchTimeout
	}
	if e.defaultBackend == "" {
		e.defaultBackend = calls.BackendTwilio
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.ids == nil {
		e.ids = calls.NewSequence(time.Now().UnixMilli())
	}
	if e.dispatchers == nil {
		e.dispatchers = dispatch.Registry{}
	}
	return e
}

// DefaultBackend is used when a start request names none.
func (e *Engine) DefaultBackend() calls.Backend { return e.defaultBackend }

// load returns the working state of id: cache first, then the durable gateway.
func (e *Engine) load(ctx context.Context, id int64) (calls.State, error) {
	st, err := e.cache.Get(ctx, id)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, correlation.ErrNotFound) {
		e.log.Warn("cache read failed", "call_id", id, "err", err)
	}
	if e.records == nil {
		return calls.State{}, ErrUnknownCall
	}

	d, err := e.records.GetCall(ctx, id)
	if err != nil {
		if !errors.Is(err, records.ErrNotFound) {
			e.log.Warn("durable read failed", "call_id", id, "err", err)
		}
		return calls.State{}, ErrUnknownCall
	}
	answers, err := e.records.GetAnswers(ctx, id)
	if err != nil {
		e.log.Warn("durable answers read failed", "call_id", id, "err", err)
	}
	st = calls.RestoreState(d, answers)
	e.save(ctx, st)
	return st, nil
}

func (e *Engine) save(ctx context.Context, st calls.State) {
	_ = e.store(ctx, st)
}

// store writes st to the cache, which holds the authoritative working state.
func (e *Engine) store(ctx context.Context, st calls.State) error {
	if err := e.cache.Put(ctx, st); err != nil {
		e.log.Warn("cache write failed", "call_id", st.Call.ID, "err", err)
		return fmt.Errorf("%w: %w", ErrStateWrite, err)
	}
	return nil
}

func (e *Engine) resolve(ctx context.Context, identifiers ...string) (int64, error) {
	for _, ident := range identifiers {
		if ident == "" {
			continue
		}
		id, err := e.cache.Resolve(ctx, ident)
		if err == nil {
			return id, nil
		}
		e.log.Debug("identifier not resolved", "identifier", ident, "err", err)
	}
	return 0, ErrUnknownCall
}

// The durable write helpers log and swallow errors.

func (e *Engine) persistStatus(ctx context.Context, st calls.State) {
	if e.records == nil {
		return
	}
	err := e.records.UpdateStatus(ctx, records.StatusUpdate{
		CallID:          st.Call.ID,
		Status:          st.Call.Status,
		ProviderRef:     st.Call.ProviderRef,
		ConversationRef: st.Call.ConversationRef,
		StartedAt:       st.Call.StartedAt,
		At:              st.Call.UpdatedAt,
	})
	if err != nil {
		e.log.Warn("durable status update failed", "call_id", st.Call.ID, "status", st.Call.Status, "err", err)
	}
}

func (e *Engine) persistCompletion(ctx context.Context, st calls.State) {
	e.persistStatus(ctx, st)
	if e.records == nil {
		return
	}
	if err := e.records.CompleteCall(ctx, st.Call); err != nil {
		e.log.Warn("durable completion failed", "call_id", st.Call.ID, "err", err)
	}
}

func (e *Engine) persistAnswer(ctx context.Context, rec calls.AnswerRecord) {
	if e.records == nil {
		return
	}
	if err := e.records.UpsertAnswer(ctx, rec); err != nil {
		e.log.Warn("durable answer upsert failed", "call_id", rec.CallID, "sequence", rec.Sequence, "err", err)
	}
}

// finish moves st to a terminal status and gives back its capacity slot.
func (e *Engine) finish(ctx context.Context, st *calls.State, status calls.Status, reported *int) {
	st.Finish(status, e.now(), reported)
	e.releaseCapacity(ctx, st)
}

func (e *Engine) releaseCapacity(ctx context.Context, st *calls.State) {
	if !st.CapacityHeld || e.limiter == nil {
		return
	}
	if err := e.limiter.Release(ctx, st.Call.Backend); err != nil {
		e.log.Warn("capacity release failed", "call_id", st.Call.ID, "backend", st.Call.Backend, "err", err)
	}
	st.CapacityHeld = false
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per call id and frees it when no one holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refLock
}

func (k *keyedMutex) lock(id int64) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &refLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
