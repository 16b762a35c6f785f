package callflow

import (
	"context"

	"survey-caller/internal/calls"
	"survey-caller/internal/transcript"
)

type TranscriptEvent struct {
	Identifier      string
	Turns           []transcript.Turn
	DurationSeconds *int
}

// IngestTranscript records every answer found in a finished conversation and completes
// the call. Pair n fills question slot n-1; pairs past the last slot are dropped.
func (e *Engine) IngestTranscript(ctx context.Context, ev TranscriptEvent) ([]calls.AnswerRecord, error) {
	id, err := e.resolve(ctx, ev.Identifier)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.lock(id)
	defer unlock()

	st, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	log := e.log.With("call_id", id)

	res := transcript.Segment(ev.Turns)
	now := e.now()
	out := make([]calls.AnswerRecord, 0, len(res.Pairs))
	for _, p := range res.Pairs {
		seq := p.Number - 1
		if seq < 0 || seq >= len(st.Slots) {
			log.Warn("transcript pair beyond question list", "question_number", p.Number, "questions", len(st.Slots))
			continue
		}
		rec := calls.AnswerRecord{
			CallID:      id,
			Sequence:    seq,
			Answer:      p.Answer,
			Confidence:  p.Confidence,
			RawResponse: p.Raw,
			RecordedAt:  now,
		}
		st.Answers[seq] = rec
		st.Slots[seq].State = calls.SlotResolved
		e.persistAnswer(ctx, rec)
		out = append(out, rec)
	}
	for st.Pointer < len(st.Slots) {
		if _, ok := st.Answers[st.Pointer]; !ok {
			break
		}
		st.Pointer++
	}
	if res.Log != "" {
		st.Transcript = res.Log
	}

	switch {
	case !st.Call.Status.IsTerminal():
		e.finish(ctx, &st, calls.StatusCompleted, ev.DurationSeconds)
		e.persistCompletion(ctx, st)
	case ev.DurationSeconds != nil && *ev.DurationSeconds >= 0:
		d := *ev.DurationSeconds
		st.Call.DurationSeconds = &d
		st.Call.UpdatedAt = now
		e.persistCompletion(ctx, st)
	}
	e.save(ctx, st)

	log.Info("transcript ingested", "pairs", len(res.Pairs), "recorded", len(out), "status", st.Call.Status)
	return out, nil
}
