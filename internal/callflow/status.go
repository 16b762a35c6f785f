package callflow

import (
	"context"

	"survey-caller/internal/calls"
)

// StatusEvent is a lifecycle notification from any backend.
type StatusEvent struct {
	// Identifiers are tried in order until one resolves.
	Identifiers []string
	// Status is the provider's raw status value.
	Status          string
	DurationSeconds *int
	// Refs learned from the event, recorded when the call has none yet.
	ProviderRef     string
	ConversationRef string
}

// OnStatusEvent applies a provider status.
//
// Only forward transitions are applied; anything else is ignored. The first move to
// in_progress stamps started_at. Terminal statuses stamp ended_at and the duration,
// preferring the provider-reported one, and release the backend slot.
func (e *Engine) OnStatusEvent(ctx context.Context, ev StatusEvent) (calls.State, error) {
	id, err := e.resolve(ctx, ev.Identifiers...)
	if err != nil {
		return calls.State{}, err
	}

	unlock := e.locks.lock(id)
	defer unlock()

	st, err := e.load(ctx, id)
	if err != nil {
		return calls.State{}, err
	}
	log := e.log.With("call_id", id)

	refsChanged := e.learnRefs(&st, ev.ProviderRef, ev.ConversationRef)

	next, ok := calls.ParseProviderStatus(ev.Status)
	if !ok {
		log.Info("unrecognized status ignored", "status", ev.Status)
		if refsChanged {
			e.save(ctx, st)
			e.persistStatus(ctx, st)
		}
		return st, ErrUnrecognizedStatus
	}

	now := e.now()
	switch {
	case calls.CanTransition(st.Call.Status, next):
		if next == calls.StatusInProgress && st.Call.StartedAt == nil {
			t := now
			st.Call.StartedAt = &t
		}
		if next.IsTerminal() {
			e.finish(ctx, &st, next, ev.DurationSeconds)
			e.save(ctx, st)
			e.persistCompletion(ctx, st)
			log.Info("call ended", "status", next, "duration_seconds", st.Call.DurationSeconds)
			return st, nil
		}
		st.Call.Status = next
		st.Call.UpdatedAt = now
		e.save(ctx, st)
		e.persistStatus(ctx, st)
		log.Info("call status changed", "status", next)

	case next == st.Call.Status && next.IsTerminal() && ev.DurationSeconds != nil && *ev.DurationSeconds >= 0:
		// A late provider report of an already-ended call corrects the computed duration.
		d := *ev.DurationSeconds
		st.Call.DurationSeconds = &d
		st.Call.UpdatedAt = now
		e.save(ctx, st)
		e.persistCompletion(ctx, st)

	default:
		log.Debug("status transition ignored", "from", st.Call.Status, "to", next)
		if refsChanged {
			e.save(ctx, st)
			e.persistStatus(ctx, st)
		}
	}
	return st, nil
}

// learnRefs records refs the call does not have yet. The next save makes them resolvable.
func (e *Engine) learnRefs(st *calls.State, providerRef, conversationRef string) bool {
	changed := false
	if providerRef != "" && st.Call.ProviderRef == "" {
		st.Call.ProviderRef = providerRef
		changed = true
	}
	if conversationRef != "" && st.Call.ConversationRef == "" {
		st.Call.ConversationRef = conversationRef
		changed = true
	}
	return changed
}
