package callflow

import (
	"context"
	"strings"

	"survey-caller/internal/calls"
)

// Resolve maps any identifier a webhook or operator may hold to the internal call id.
func (e *Engine) Resolve(ctx context.Context, identifier string) (int64, error) {
	return e.resolve(ctx, identifier)
}

// Snapshot returns a copy of the call's working state.
func (e *Engine) Snapshot(ctx context.Context, id int64) (calls.State, error) {
	unlock := e.locks.lock(id)
	defer unlock()
	return e.load(ctx, id)
}

// AgentContext is the question context served to a voice agent.
type AgentContext struct {
	CallID      int64    `json:"call_id"`
	ContextText string   `json:"context"`
	Questions   []string `json:"questions"`
}

// ContextText looks a call up by any identifier, typically the conversation reference.
func (e *Engine) ContextText(ctx context.Context, identifier string) (AgentContext, error) {
	id, err := e.resolve(ctx, identifier)
	if err != nil {
		return AgentContext{}, err
	}
	st, err := e.Snapshot(ctx, id)
	if err != nil {
		return AgentContext{}, err
	}
	return AgentContext{CallID: id, ContextText: st.ContextText, Questions: st.Questions()}, nil
}

// SessionArtifact returns the backend session artifact, e.g. a signed agent URL.
func (e *Engine) SessionArtifact(ctx context.Context, identifier string) (string, error) {
	id, err := e.resolve(ctx, identifier)
	if err != nil {
		return "", err
	}
	st, err := e.Snapshot(ctx, id)
	if err != nil {
		return "", err
	}
	return st.SessionArtifact, nil
}

// LinkConversation records the conversation reference of a call once it is known.
// An existing reference is never replaced.
func (e *Engine) LinkConversation(ctx context.Context, id int64, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	unlock := e.locks.lock(id)
	defer unlock()

	st, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if !e.learnRefs(&st, "", ref) {
		return nil
	}
	st.Call.UpdatedAt = e.now()
	e.save(ctx, st)
	e.persistStatus(ctx, st)
	return nil
}

// Sweep purges expired correlation entries. Run periodically.
func (e *Engine) Sweep(ctx context.Context) int {
	return e.cache.Sweep(ctx)
}
