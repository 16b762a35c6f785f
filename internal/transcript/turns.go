package transcript

import (
	"encoding/json"
	"strings"
)

type Role string

const (
	RoleAgent Role = "agent"
	RoleUser  Role = "user"
)

// Turn is one utterance in a two-party conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

var (
	roleKeys = []string{"role", "speaker"}
	textKeys = []string{"message", "text", "content"}
)

// DecodeTurns decodes a JSON array of turns. Elements may be objects using any of the
// role/text synonyms, or bare strings (implicit user turns). Anything else yields nil.
func DecodeTurns(raw []byte) []Turn {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return FromValue(v)
}

// FromValue converts an already-decoded JSON value into turns.
func FromValue(v any) []Turn {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Turn, 0, len(items))
	for _, it := range items {
		switch x := it.(type) {
		case string:
			out = append(out, Turn{Role: RoleUser, Text: x})
		case map[string]any:
			out = append(out, Turn{
				Role: normalizeRole(firstString(x, roleKeys)),
				Text: firstString(x, textKeys),
			})
		}
	}
	return out
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func normalizeRole(r string) Role {
	switch v := strings.ToLower(strings.TrimSpace(r)); v {
	case "agent", "assistant", "bot", "ai":
		return RoleAgent
	case "user", "caller", "customer", "human":
		return RoleUser
	case "":
		return "unknown"
	default:
		return Role(v)
	}
}
