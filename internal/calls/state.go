package calls

import (
	"sort"
	"time"
)

// State is the working set of one call: lifecycle, slots, answers and the question pointer.
//
// It is what the correlation cache mirrors, so a call can proceed when the durable store
// is unreachable. Pointer ranges over [0, len(Slots)] and never decreases.
type State struct {
	Call    Call                 `json:"call"`
	Slots   []QuestionSlot       `json:"slots"`
	Answers map[int]AnswerRecord `json:"answers"`
	Pointer int                  `json:"pointer"`

	// ContextText is the rendered question list handed to voice-agent backends.
	ContextText string `json:"context_text,omitempty"`
	// SessionArtifact is backend specific, e.g. a signed agent websocket URL.
	SessionArtifact string `json:"session_artifact,omitempty"`
	// Transcript is the role-prefixed log of a voice-agent conversation.
	Transcript string `json:"transcript,omitempty"`
	// CapacityHeld is set while the call holds a backend concurrency slot.
	CapacityHeld bool `json:"capacity_held,omitempty"`
}

// NewState builds a created call with one pending slot per question.
func NewState(call Call, questions []string) State {
	st := State{
		Call:    call,
		Slots:   make([]QuestionSlot, len(questions)),
		Answers: map[int]AnswerRecord{},
	}
	for i, q := range questions {
		st.Slots[i] = QuestionSlot{CallID: call.ID, Sequence: i, Text: q, State: SlotPending}
	}
	return st
}

// RestoreState rebuilds a State from durable rows.
// The pointer is placed after the leading run of answered slots.
func RestoreState(d Detail, answers []AnswerRecord) State {
	st := State{
		Call:    d.Call,
		Slots:   make([]QuestionSlot, len(d.Questions)),
		Answers: make(map[int]AnswerRecord, len(answers)),
	}
	copy(st.Slots, d.Questions)
	sort.Slice(st.Slots, func(i, j int) bool { return st.Slots[i].Sequence < st.Slots[j].Sequence })
	for _, a := range answers {
		st.Answers[a.Sequence] = a
	}
	for i := range st.Slots {
		if _, ok := st.Answers[st.Slots[i].Sequence]; ok {
			st.Slots[i].State = SlotResolved
		} else if st.Slots[i].State == "" {
			st.Slots[i].State = SlotPending
		}
	}
	for st.Pointer < len(st.Slots) {
		if _, ok := st.Answers[st.Pointer]; !ok {
			break
		}
		st.Pointer++
	}
	if st.Call.Status == StatusCompleted {
		st.Pointer = len(st.Slots)
	}
	return st
}

// Questions returns the slot texts in order.
func (s State) Questions() []string {
	out := make([]string, len(s.Slots))
	for i, sl := range s.Slots {
		out[i] = sl.Text
	}
	return out
}

// OrderedAnswers returns answers sorted by sequence.
func (s State) OrderedAnswers() []AnswerRecord {
	out := make([]AnswerRecord, 0, len(s.Answers))
	for _, a := range s.Answers {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// Done reports whether every slot has been passed by the pointer.
func (s State) Done() bool { return s.Pointer >= len(s.Slots) }

// Finish marks the call ended at now. reported, when non-nil, wins over the computed duration.
func (s *State) Finish(status Status, now time.Time, reported *int) {
	s.Call.Status = status
	if s.Call.EndedAt == nil {
		t := now
		s.Call.EndedAt = &t
	}
	switch {
	case reported != nil && *reported >= 0:
		d := *reported
		s.Call.DurationSeconds = &d
	case s.Call.StartedAt != nil:
		d := int(s.Call.EndedAt.Sub(*s.Call.StartedAt).Seconds())
		if d < 0 {
			d = 0
		}
		s.Call.DurationSeconds = &d
	}
	s.Call.UpdatedAt = now
}
