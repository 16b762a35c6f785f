package auth

import (
	"crypto/subtle"
	"strings"

	"survey-caller/internal/config"
)

// Operator is an API caller identified by a static key.
type Operator struct {
	ID   string `json:"operator_id"`
	Role string `json:"role"`
}

type keyedOperator struct {
	key string
	op  Operator
}

// KeyStore maps configured API keys to operators.
type KeyStore struct {
	entries []keyedOperator
}

// NewKeyStore builds the store from the per-role keys in cfg. Empty keys are skipped.
func NewKeyStore(cfg config.AuthConfig) *KeyStore {
	s := &KeyStore{}
	s.add(cfg.AdminAPIKey, Operator{ID: "admin", Role: RoleAdmin})
	s.add(cfg.OperatorAPIKey, Operator{ID: "operator", Role: RoleOperator})
	s.add(cfg.ViewerAPIKey, Operator{ID: "viewer", Role: RoleViewer})
	return s
}

func (s *KeyStore) add(key string, op Operator) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	s.entries = append(s.entries, keyedOperator{key: key, op: op})
}

// Authenticate returns the operator owning key. Every entry is compared.
func (s *KeyStore) Authenticate(key string) (Operator, bool) {
	key = strings.TrimSpace(key)
	var (
		found Operator
		ok    bool
	)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare([]byte(e.key), []byte(key)) == 1 {
			found, ok = e.op, true
		}
	}
	return found, ok && key != ""
}

// Lookup finds an operator by id, used when a refresh token is exchanged.
func (s *KeyStore) Lookup(id string) (Operator, bool) {
	for _, e := range s.entries {
		if e.op.ID == id {
			return e.op, true
		}
	}
	return Operator{}, false
}

// Role names shared with internal/rbac.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)
