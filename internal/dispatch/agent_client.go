package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultAgentBaseURL = "https://api.elevenlabs.io"

type AgentConfig struct {
	APIKey        string
	AgentID       string
	PhoneNumberID string
	BaseURL       string
}

// AgentClient talks to the conversational agent platform REST API.
type AgentClient struct {
	cfg        AgentConfig
	httpClient *http.Client
}

func NewAgentClient(cfg AgentConfig) *AgentClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAgentBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &AgentClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Configured reports whether the client has credentials and an agent.
func (c *AgentClient) Configured() bool {
	return c != nil && c.cfg.APIKey != "" && c.cfg.AgentID != ""
}

type outboundCallRequest struct {
	AgentID            string `json:"agent_id"`
	AgentPhoneNumberID string `json:"agent_phone_number_id"`
	ToNumber           string `json:"to_number"`
	InitiationData     struct {
		DynamicVariables map[string]string `json:"dynamic_variables"`
	} `json:"conversation_initiation_client_data"`
}

// OutboundCallResult is the platform's answer to an outbound call request.
type OutboundCallResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	CallSID        string `json:"callSid"`
}

// OutboundCall asks the platform to dial to with the given dynamic variables.
func (c *AgentClient) OutboundCall(ctx context.Context, to string, vars map[string]string) (OutboundCallResult, error) {
	if !c.Configured() || c.cfg.PhoneNumberID == "" {
		return OutboundCallResult{}, ErrNotConfigured
	}
	var body outboundCallRequest
	body.AgentID = c.cfg.AgentID
	body.AgentPhoneNumberID = c.cfg.PhoneNumberID
	body.ToNumber = to
	body.InitiationData.DynamicVariables = vars

	payload, err := json.Marshal(body)
	if err != nil {
		return OutboundCallResult{}, fmt.Errorf("encode outbound call: %w", err)
	}

	var out OutboundCallResult
	if err := c.do(ctx, http.MethodPost, "/v1/convai/twilio/outbound-call", bytes.NewReader(payload), &out); err != nil {
		return OutboundCallResult{}, err
	}
	return out, nil
}

// SignedURL fetches a short-lived websocket URL for a private agent.
func (c *AgentClient) SignedURL(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	var out struct {
		SignedURL string `json:"signed_url"`
	}
	path := "/v1/convai/conversation/get_signed_url?agent_id=" + url.QueryEscape(c.cfg.AgentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	if out.SignedURL == "" {
		return "", errors.New("agent api: empty signed url")
	}
	return out.SignedURL, nil
}

func (c *AgentClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("agent api request: %w", err)
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agent api %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("agent api %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("agent api %s: decode: %w", path, err)
	}
	return nil
}
