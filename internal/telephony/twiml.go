package telephony

import (
	"fmt"
	"strconv"
	"strings"

	"survey-caller/internal/callflow"
	"survey-caller/internal/calls"

	"github.com/twilio/twilio-go/twiml"
)

const (
	greetingText     = "Hello, this is an automated survey call. I will ask you a few questions. Please answer with yes or no."
	gatherHintText   = "Please say yes or no, or press 1 for yes, 2 for no."
	completionText   = "Thank you for answering all questions. Your responses have been recorded. Goodbye!"
	noQuestionsText  = "I'm sorry, but no valid questions were found. The call will now end."
	callEndedText    = "We are unable to continue this survey. Goodbye."
	apologyText      = "We're sorry, an application error occurred. Goodbye."
	feedbackYes      = "You said yes. Thank you."
	feedbackNo       = "You said no. Thank you."
	feedbackTimeout  = "I did not receive a response. Moving to the next question."
	feedbackUnclear  = "I did not understand your response. Moving to the next question."
	streamGreeting   = "Please hold while we connect you."
	defaultLanguage  = "en-US"
	defaultGatherSec = 15
)

// IVRConfig tunes the spoken flow.
type IVRConfig struct {
	// Voice is a Twilio voice name such as "Polly.Joanna". Empty uses Twilio's default.
	Voice    string
	Language string
	// GatherTimeout is how long Twilio waits for the first input, in seconds.
	GatherTimeout int
}

func (c IVRConfig) withDefaults() IVRConfig {
	if c.Language == "" {
		c.Language = defaultLanguage
	}
	if c.GatherTimeout <= 0 {
		c.GatherTimeout = defaultGatherSec
	}
	return c
}

func (c IVRConfig) say(msg string) *twiml.VoiceSay {
	return &twiml.VoiceSay{Message: msg, Voice: c.Voice, Language: c.Language}
}

// QuestionTwiML renders the prompt for one question.
// A gather timeout falls through to a redirect that posts no input, which records a timeout.
func QuestionTwiML(p callflow.Prompt, cfg IVRConfig, answerURL string) (string, error) {
	cfg = cfg.withDefaults()
	if p.Terminal {
		return TerminalTwiML(p, cfg)
	}

	var els []twiml.Element
	if p.Greeting {
		els = append(els, cfg.say(greetingText), &twiml.VoicePause{Length: "2"})
	}
	els = append(els,
		cfg.say(fmt.Sprintf("Question %d. %s", p.Sequence+1, p.Text)),
		&twiml.VoicePause{Length: "1"},
		&twiml.VoiceGather{
			Input:         "speech dtmf",
			Action:        answerURL,
			Method:        "POST",
			Timeout:       strconv.Itoa(cfg.GatherTimeout),
			NumDigits:     "1",
			FinishOnKey:   "#",
			SpeechTimeout: "auto",
			Language:      cfg.Language,
			InnerElements: []twiml.Element{cfg.say(gatherHintText)},
		},
		&twiml.VoiceRedirect{Url: answerURL, Method: "POST"},
	)
	return twiml.Voice(els)
}

// TerminalTwiML ends the call with the message matching how it ended.
func TerminalTwiML(p callflow.Prompt, cfg IVRConfig) (string, error) {
	cfg = cfg.withDefaults()
	msg := completionText
	switch {
	case p.Failed, p.Sequence < p.Total:
		msg = callEndedText
	case p.Total == 0:
		msg = noQuestionsText
	}
	return twiml.Voice([]twiml.Element{cfg.say(msg), &twiml.VoiceHangup{}})
}

// FeedbackTwiML acknowledges an answer and sends Twilio back for the next question.
func FeedbackTwiML(a calls.Answer, cfg IVRConfig, voiceURL string) (string, error) {
	cfg = cfg.withDefaults()
	return twiml.Voice([]twiml.Element{
		cfg.say(FeedbackText(a)),
		&twiml.VoicePause{Length: "0.5"},
		&twiml.VoiceRedirect{Url: voiceURL, Method: "POST"},
	})
}

func FeedbackText(a calls.Answer) string {
	switch a {
	case calls.AnswerYes:
		return feedbackYes
	case calls.AnswerNo:
		return feedbackNo
	case calls.AnswerTimeout:
		return feedbackTimeout
	default:
		return feedbackUnclear
	}
}

// RedirectTwiML sends Twilio to url without saying anything.
func RedirectTwiML(url string) string {
	out, err := twiml.Voice([]twiml.Element{&twiml.VoiceRedirect{Url: url, Method: "POST"}})
	if err != nil {
		return `<?xml version="1.0" encoding="UTF-8"?><Response><Redirect method="POST">` + url + `</Redirect></Response>`
	}
	return out
}

// StreamTwiML connects the call audio to the media bridge at streamURL.
func StreamTwiML(streamURL string, callID int64, cfg IVRConfig) (string, error) {
	cfg = cfg.withDefaults()
	stream := twiml.VoiceStream{
		Name: "survey-" + strconv.FormatInt(callID, 10),
		Url:  streamURL,
		InnerElements: []twiml.Element{
			twiml.VoiceParameter{Name: "call_id", Value: strconv.FormatInt(callID, 10)},
		},
	}
	return twiml.Voice([]twiml.Element{
		cfg.say(streamGreeting),
		twiml.VoiceConnect{InnerElements: []twiml.Element{stream}},
	})
}

// ApologyTwiML is returned when the flow itself failed. Twilio always gets valid TwiML.
func ApologyTwiML(cfg IVRConfig) string {
	cfg = cfg.withDefaults()
	out, err := twiml.Voice([]twiml.Element{cfg.say(apologyText), &twiml.VoiceHangup{}})
	if err != nil {
		return `<?xml version="1.0" encoding="UTF-8"?><Response><Hangup/></Response>`
	}
	return out
}

// WebsocketURL turns an http(s) base URL into the ws(s) URL of path.
func WebsocketURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + path
}
