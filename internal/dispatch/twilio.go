package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"survey-caller/internal/calls"

	"github.com/twilio/twilio-go"
	twilioopenapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// CallCreator is the subset of the twilio-go REST API used to place calls.
type CallCreator interface {
	CreateCall(params *twilioopenapi.CreateCallParams) (*twilioopenapi.ApiV2010Call, error)
}

// NewTwilioREST builds the REST API service for an account.
func NewTwilioREST(accountSID, authToken string) CallCreator {
	c := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return c.Api
}

type TwilioConfig struct {
	FromNumber string
	// PublicBaseURL is where Twilio reaches our webhooks, e.g. https://calls.example.com
	PublicBaseURL string
	// RingTimeout is how long Twilio lets the phone ring, in seconds. Zero keeps Twilio's default.
	RingTimeout int
}

// TwilioDispatcher runs the gather-and-respond IVR flow.
type TwilioDispatcher struct {
	api CallCreator
	cfg TwilioConfig
}

func NewTwilioDispatcher(api CallCreator, cfg TwilioConfig) *TwilioDispatcher {
	return &TwilioDispatcher{api: api, cfg: cfg}
}

func (d *TwilioDispatcher) Backend() calls.Backend { return calls.BackendTwilio }

func (d *TwilioDispatcher) StartCall(ctx context.Context, req Request) (Result, error) {
	sid, err := d.place(ctx, req.PhoneNumber, WebhookURL(d.cfg.PublicBaseURL, "/webhooks/twilio/voice", req.CallID), req.CallID)
	if err != nil {
		return Result{}, err
	}
	return Result{ProviderRef: sid}, nil
}

func (d *TwilioDispatcher) place(ctx context.Context, to, voiceURL string, callID int64) (string, error) {
	if d.api == nil || d.cfg.FromNumber == "" || d.cfg.PublicBaseURL == "" {
		return "", ErrNotConfigured
	}

	params := &twilioopenapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(d.cfg.FromNumber)
	params.SetUrl(voiceURL)
	params.SetMethod("POST")
	params.SetStatusCallback(WebhookURL(d.cfg.PublicBaseURL, "/webhooks/twilio/status", callID))
	params.SetStatusCallbackMethod("POST")
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	if d.cfg.RingTimeout > 0 {
		params.SetTimeout(d.cfg.RingTimeout)
	}

	type outcome struct {
		call *twilioopenapi.ApiV2010Call
		err  error
	}
	// twilio-go has no context support; the request is abandoned, not cancelled.
	ch := make(chan outcome, 1)
	go func() {
		c, err := d.api.CreateCall(params)
		ch <- outcome{c, err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("twilio create call: %w", ctx.Err())
	case o := <-ch:
		if o.err != nil {
			return "", fmt.Errorf("twilio create call: %w", o.err)
		}
		if o.call == nil || o.call.Sid == nil || *o.call.Sid == "" {
			return "", errors.New("twilio create call: empty call sid")
		}
		return *o.call.Sid, nil
	}
}

// SignedURLSource hands out short-lived agent websocket URLs.
type SignedURLSource interface {
	SignedURL(ctx context.Context) (string, error)
}

// StreamDispatcher places a Twilio call whose TwiML connects a media stream to the
// service, which bridges it to the agent websocket fetched here.
type StreamDispatcher struct {
	twilio *TwilioDispatcher
	agent  SignedURLSource
}

func NewStreamDispatcher(api CallCreator, cfg TwilioConfig, agent SignedURLSource) *StreamDispatcher {
	return &StreamDispatcher{twilio: NewTwilioDispatcher(api, cfg), agent: agent}
}

func (d *StreamDispatcher) Backend() calls.Backend { return calls.BackendAgentStream }

func (d *StreamDispatcher) StartCall(ctx context.Context, req Request) (Result, error) {
	if d.agent == nil {
		return Result{}, ErrNotConfigured
	}
	signed, err := d.agent.SignedURL(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("agent signed url: %w", err)
	}
	sid, err := d.twilio.place(ctx, req.PhoneNumber, WebhookURL(d.twilio.cfg.PublicBaseURL, "/webhooks/twilio/stream", req.CallID), req.CallID)
	if err != nil {
		return Result{}, err
	}
	return Result{ProviderRef: sid, SessionArtifact: signed}, nil
}

// WebhookURL joins base and path and appends call_id.
func WebhookURL(base, path string, callID int64) string {
	u := strings.TrimRight(base, "/") + path
	q := url.Values{}
	q.Set("call_id", strconv.FormatInt(callID, 10))
	return u + "?" + q.Encode()
}
