package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"survey-caller/internal/calls"
)

// VoiceAgentDispatcher lets the agent platform dial the callee itself.
// The rendered question list is passed as dynamic variables so the agent can ask them.
type VoiceAgentDispatcher struct {
	client *AgentClient
}

func NewVoiceAgentDispatcher(client *AgentClient) *VoiceAgentDispatcher {
	return &VoiceAgentDispatcher{client: client}
}

func (d *VoiceAgentDispatcher) Backend() calls.Backend { return calls.BackendVoiceAgent }

func (d *VoiceAgentDispatcher) StartCall(ctx context.Context, req Request) (Result, error) {
	res, err := d.client.OutboundCall(ctx, req.PhoneNumber, DynamicVariables(req))
	if err != nil {
		return Result{}, err
	}
	if !res.Success && res.ConversationID == "" && res.CallSID == "" {
		return Result{}, fmt.Errorf("agent outbound call rejected: %s", res.Message)
	}
	return Result{ProviderRef: res.CallSID, ConversationRef: res.ConversationID}, nil
}

// DynamicVariables is what the agent prompt can reference: call_id, questions,
// question_count and question_<n>.
func DynamicVariables(req Request) map[string]string {
	vars := map[string]string{
		"call_id":        strconv.FormatInt(req.CallID, 10),
		"questions":      req.ContextText,
		"question_count": strconv.Itoa(len(req.Questions)),
	}
	for i, q := range req.Questions {
		vars["question_"+strconv.Itoa(i+1)] = q
	}
	return vars
}
