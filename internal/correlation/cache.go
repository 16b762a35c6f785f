// Package correlation maps between the identifier namespaces a call may be known by
// (internal id, telephony call reference, voice-agent conversation reference) and keeps
// the per-call working state so a call can proceed without the durable store.
package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"survey-caller/internal/calls"
)

const (
	NamespaceInternal     = "internal"
	NamespaceProvider     = "provider_ref"
	NamespaceConversation = "conversation"
)

// Key builds a namespaced store key such as "provider_ref:CA123".
func Key(namespace, value string) string { return namespace + ":" + value }

func internalKey(id int64) string { return Key(NamespaceInternal, strconv.FormatInt(id, 10)) }

// Lookup is the durable fallback used when neither a direct key nor the reverse
// scan can resolve an identifier.
type Lookup interface {
	FindCallByReference(ctx context.Context, ref string) (int64, error)
	GetCall(ctx context.Context, id int64) (calls.Detail, error)
}

// DefaultMaxAge bounds how long entries of calls that never reach a terminal status are kept.
const DefaultMaxAge = 24 * time.Hour

type Cache struct {
	store  Store
	lookup Lookup
	grace  time.Duration
	maxAge time.Duration
	now    func() time.Time
}

// NewCache wraps store. lookup may be nil. Entries of terminal calls expire after grace,
// all others after DefaultMaxAge.
func NewCache(store Store, lookup Lookup, grace time.Duration) *Cache {
	return &Cache{store: store, lookup: lookup, grace: grace, maxAge: DefaultMaxAge, now: time.Now}
}

// WithMaxAge overrides the expiry of non-terminal entries. Non-positive values are ignored.
func (c *Cache) WithMaxAge(d time.Duration) *Cache {
	if d > 0 {
		c.maxAge = d
	}
	return c
}

// ttlFor is the expiry shared by a call's state and every reverse key pointing at it.
func (c *Cache) ttlFor(status calls.Status) time.Duration {
	if status.IsTerminal() {
		return c.grace
	}
	return c.maxAge
}

// Put writes the state and its reverse mappings.
func (c *Cache) Put(ctx context.Context, st calls.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode call state: %w", err)
	}
	ttl := c.ttlFor(st.Call.Status)

	id := strconv.FormatInt(st.Call.ID, 10)
	var errs []error
	if err := c.store.Set(ctx, internalKey(st.Call.ID), raw, ttl); err != nil {
		errs = append(errs, err)
	}
	if st.Call.ProviderRef != "" {
		if err := c.store.Set(ctx, Key(NamespaceProvider, st.Call.ProviderRef), []byte(id), ttl); err != nil {
			errs = append(errs, err)
		}
	}
	if st.Call.ConversationRef != "" {
		if err := c.store.Set(ctx, Key(NamespaceConversation, st.Call.ConversationRef), []byte(id), ttl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns the cached state for id, or ErrNotFound.
func (c *Cache) Get(ctx context.Context, id int64) (calls.State, error) {
	raw, err := c.store.Get(ctx, internalKey(id))
	if err != nil {
		return calls.State{}, err
	}
	var st calls.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return calls.State{}, fmt.Errorf("decode call state: %w", err)
	}
	if st.Answers == nil {
		st.Answers = map[int]calls.AnswerRecord{}
	}
	return st, nil
}

// Link records a reverse mapping from a provider or conversation reference. The key
// expires with the call's cached state.
func (c *Cache) Link(ctx context.Context, namespace, ref string, id int64) error {
	var status calls.Status
	if st, err := c.Get(ctx, id); err == nil {
		status = st.Call.Status
	}
	return c.link(ctx, namespace, ref, id, status)
}

func (c *Cache) link(ctx context.Context, namespace, ref string, id int64, status calls.Status) error {
	if ref == "" {
		return nil
	}
	return c.store.Set(ctx, Key(namespace, ref), []byte(strconv.FormatInt(id, 10)), c.ttlFor(status))
}

// Resolve maps any identifier a webhook may carry to the internal call id.
//
// Order: direct namespace hit, reverse scan of cached states, durable lookup.
// Reverse and durable hits backfill the direct key.
func (c *Cache) Resolve(ctx context.Context, identifier string) (int64, error) {
	ident := strings.TrimSpace(identifier)
	if ident == "" {
		return 0, ErrNotFound
	}
	var storeErr error
	remember := func(err error) {
		if err != nil && !errors.Is(err, ErrNotFound) {
			storeErr = err
		}
	}

	namespaces := []string{NamespaceProvider, NamespaceConversation}
	if ns, v, ok := splitNamespaced(ident); ok {
		ident = v
		if ns == NamespaceInternal {
			namespaces = nil
		} else {
			namespaces = []string{ns}
		}
	}

	numericID, numErr := strconv.ParseInt(ident, 10, 64)
	isNumeric := numErr == nil && numericID > 0
	if isNumeric {
		_, err := c.store.Get(ctx, internalKey(numericID))
		if err == nil {
			return numericID, nil
		}
		remember(err)
	}

	for _, ns := range namespaces {
		raw, err := c.store.Get(ctx, Key(ns, ident))
		if err != nil {
			remember(err)
			continue
		}
		if id, perr := strconv.ParseInt(string(raw), 10, 64); perr == nil {
			return id, nil
		}
	}

	id, ns, status, err := c.reverseScan(ctx, ident)
	if err == nil {
		_ = c.link(ctx, ns, ident, id, status)
		return id, nil
	}
	remember(err)

	if c.lookup != nil {
		id, err := c.lookup.FindCallByReference(ctx, ident)
		if err == nil && id > 0 {
			c.backfillDurable(ctx, id, ident)
			return id, nil
		}
		remember(err)
		if isNumeric {
			_, err := c.lookup.GetCall(ctx, numericID)
			if err == nil {
				return numericID, nil
			}
			remember(err)
		}
	}

	if storeErr != nil {
		return 0, errors.Join(ErrNotFound, storeErr)
	}
	return 0, ErrNotFound
}

func (c *Cache) reverseScan(ctx context.Context, ref string) (int64, string, calls.Status, error) {
	var (
		found  int64
		ns     string
		status calls.Status
	)
	err := c.store.Scan(ctx, NamespaceInternal+":", func(_ string, val []byte) bool {
		var st calls.State
		if json.Unmarshal(val, &st) != nil {
			return true
		}
		switch ref {
		case st.Call.ProviderRef:
			found, ns = st.Call.ID, NamespaceProvider
		case st.Call.ConversationRef:
			found, ns = st.Call.ID, NamespaceConversation
		default:
			return true
		}
		status = st.Call.Status
		return false
	})
	if err != nil {
		return 0, "", "", err
	}
	if found == 0 {
		return 0, "", "", ErrNotFound
	}
	return found, ns, status, nil
}

// backfillDurable restores the direct key for a reference found in durable storage.
// The namespace and expiry come from the stored call when it is readable.
func (c *Cache) backfillDurable(ctx context.Context, id int64, ref string) {
	ns := NamespaceProvider
	var status calls.Status
	if d, err := c.lookup.GetCall(ctx, id); err == nil {
		status = d.Call.Status
		if d.Call.ConversationRef == ref {
			ns = NamespaceConversation
		}
	}
	_ = c.link(ctx, ns, ref, id, status)
}

// Evict removes a call's state and reverse mappings.
func (c *Cache) Evict(ctx context.Context, st calls.State) error {
	keys := []string{internalKey(st.Call.ID)}
	if st.Call.ProviderRef != "" {
		keys = append(keys, Key(NamespaceProvider, st.Call.ProviderRef))
	}
	if st.Call.ConversationRef != "" {
		keys = append(keys, Key(NamespaceConversation, st.Call.ConversationRef))
	}
	return c.store.Delete(ctx, keys...)
}

type purger interface {
	PurgeExpired(now time.Time) int
}

// Sweep drops expired entries on stores that do not expire keys themselves.
func (c *Cache) Sweep(_ context.Context) int {
	if p, ok := c.store.(purger); ok {
		return p.PurgeExpired(c.now())
	}
	return 0
}

func splitNamespaced(s string) (string, string, bool) {
	ns, v, ok := strings.Cut(s, ":")
	if !ok || v == "" {
		return "", "", false
	}
	switch ns {
	case NamespaceInternal, NamespaceProvider, NamespaceConversation:
		return ns, v, true
	}
	return "", "", false
}
