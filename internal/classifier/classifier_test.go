package classifier

import (
	"math"
	"testing"

	"survey-caller/internal/calls"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		in      string
		want    calls.Answer
		minConf float64
		maxConf float64
	}{
		{"Yes please", calls.AnswerYes, 0.8, 0.9},
		{"nope", calls.AnswerNo, 0.8, 0.9},
		{"  YEP ", calls.AnswerYes, 0.8, 0.9},
		{"that is wrong", calls.AnswerNo, 0.8, 0.9},
		{"no, yes I think", calls.AnswerYes, 0.8, 0.9},
		{"maybe later", calls.AnswerUnclear, 0.3, 0.3},
		{"", calls.AnswerUnclear, 0, 0},
		{"   ", calls.AnswerUnclear, 0, 0},
	}
	for _, tc := range cases {
		got, conf := Classify(tc.in, ChannelSpeech)
		if got != tc.want {
			t.Fatalf("%q: expected %q, got %q", tc.in, tc.want, got)
		}
		if conf < tc.minConf || conf > tc.maxConf {
			t.Fatalf("%q: confidence %v outside [%v, %v]", tc.in, conf, tc.minConf, tc.maxConf)
		}
	}
}

func TestClassify_ChannelConfidence(t *testing.T) {
	_, speech := Classify("yes", ChannelSpeech)
	_, transcript := Classify("yes", ChannelTranscript)
	if speech != 0.9 || transcript != 0.8 {
		t.Fatalf("unexpected channel confidences: speech=%v transcript=%v", speech, transcript)
	}
}

func TestClassifySpeech_UsesProviderConfidence(t *testing.T) {
	pc := 0.42
	ans, conf := ClassifySpeech("yeah", &pc)
	if ans != calls.AnswerYes || conf != 0.42 {
		t.Fatalf("expected provider confidence, got %q %v", ans, conf)
	}
	ans, conf = ClassifySpeech("purple", &pc)
	if ans != calls.AnswerUnclear || conf != 0.3 {
		t.Fatalf("expected unclear keeps fixed confidence, got %q %v", ans, conf)
	}
	high := 7.0
	if _, conf := ClassifySpeech("no", &high); conf != 1 {
		t.Fatalf("expected clamp to 1, got %v", conf)
	}
}

func TestFromDigits(t *testing.T) {
	if a, c := FromDigits("1"); a != calls.AnswerYes || c != 1 {
		t.Fatalf("expected yes")
	}
	if a, _ := FromDigits("2"); a != calls.AnswerNo {
		t.Fatalf("expected no")
	}
	if a, c := FromDigits("9"); a != calls.AnswerUnclear || c != 0.3 {
		t.Fatalf("expected unclear")
	}
}

func TestClassifySpeech_IgnoresNonFiniteProviderConfidence(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		pc := v
		ans, conf := ClassifySpeech("yes", &pc)
		if ans != calls.AnswerYes || conf != 0.9 {
			t.Fatalf("%v: expected (yes, 0.9), got %q %v", v, ans, conf)
		}
	}
	if clamp(math.NaN()) != 0 {
		t.Fatalf("expected NaN to clamp to 0")
	}
}
