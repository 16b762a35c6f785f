package calls

import "strings"

// ParseProviderStatus maps provider status vocabulary (Twilio CallStatus values,
// voice-agent event names) to internal statuses.
func ParseProviderStatus(raw string) (Status, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.ReplaceAll(v, "-", "_")
	v = strings.ReplaceAll(v, ".", "_")
	switch v {
	case "created":
		return StatusCreated, true
	case "queued", "initiated", "ringing", "dialing":
		return StatusRinging, true
	case "in_progress", "inprogress", "answered", "call_started", "started", "active":
		return StatusInProgress, true
	case "completed", "call_ended", "ended", "done":
		return StatusCompleted, true
	case "failed", "busy", "no_answer", "noanswer", "canceled", "cancelled", "error", "call_failed":
		return StatusFailed, true
	default:
		return "", false
	}
}

func rank(s Status) int {
	switch s {
	case StatusCreated:
		return 0
	case StatusRinging:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted:
		return 3
	default:
		return -1
	}
}

// CanTransition reports whether a call may move from one status to another.
// Moves are forward only; failed is reachable from any non-terminal status;
// terminal statuses are absorbing.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() || from == to {
		return false
	}
	if to == StatusFailed {
		return true
	}
	rf, rt := rank(from), rank(to)
	return rf >= 0 && rt > rf
}
