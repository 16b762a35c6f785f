package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"survey-caller/internal/audit"
	"survey-caller/internal/auth"
	"survey-caller/internal/callflow"
	"survey-caller/internal/calls"
	"survey-caller/internal/dispatch"
	"survey-caller/internal/questions"
	"survey-caller/internal/records"
	"survey-caller/internal/reporting"
	"survey-caller/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// CallService is the part of the call engine the operator API drives.
type CallService interface {
	Start(ctx context.Context, req callflow.StartRequest) (calls.State, error)
	Snapshot(ctx context.Context, id int64) (calls.State, error)
}

type CallLister interface {
	ListCalls(ctx context.Context, f records.ListFilter) ([]calls.Call, error)
}

type WebhookLog interface {
	ListByCall(ctx context.Context, callID int64, limit int) ([]audit.Event, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Keys     *auth.KeyStore
	Calls    CallService
	Records  CallLister
	Reports  *reporting.Service
	Webhooks WebhookLog
	Presets  *questions.Presets
	Health   *Health
}

// --- Auth ---

type loginRequest struct {
	APIKey string `json:"api_key"`
}

// Login exchanges an operator API key for a token pair.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil || h.Keys == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	op, ok := h.Keys.Authenticate(req.APIKey)
	if !ok {
		logger.FromGin(c).Warn("login rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), op.ID, op.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken, "expires_in": pair.ExpiresIn, "role": op.Role})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh issues a new pair for a valid refresh token. The role is looked up again.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil || h.Keys == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	now := time.Now()
	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, now)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	op, ok := h.Keys.Lookup(claims.OperatorID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "operator no longer configured"})
		return
	}
	pair, err := h.Auth.IssuePair(now, op.ID, op.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h Handlers) Me(c *gin.Context) {
	id, _ := auth.OperatorID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"operator_id": id, "role": role})
}

// --- Calls ---

type startCallRequest struct {
	PhoneNumber string   `json:"phone_number"`
	Questions   []string `json:"questions"`
	QuestionSet string   `json:"question_set"`
	Backend     string   `json:"backend"`
}

func (h Handlers) StartCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid json"})
		return
	}

	qs := req.Questions
	if req.QuestionSet != "" {
		if len(qs) > 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "give questions or question_set, not both"})
			return
		}
		if h.Presets == nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": questions.ErrPresetNotFound.Error()})
			return
		}
		p, err := h.Presets.Get(req.QuestionSet)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		qs = p.Questions
	}

	st, err := h.Calls.Start(c.Request.Context(), callflow.StartRequest{
		PhoneNumber: req.PhoneNumber,
		Questions:   qs,
		Backend:     calls.Backend(strings.TrimSpace(req.Backend)),
	})
	if err != nil {
		status := startErrorStatus(err)
		body := gin.H{"success": false, "error": err.Error()}
		if st.Call.ID != 0 {
			body["call_id"] = st.Call.ID
			body["status"] = st.Call.Status
		}
		if status >= http.StatusInternalServerError {
			logger.FromGin(c).Error("start call failed", "call_id", st.Call.ID, "err", err)
		}
		c.AbortWithStatusJSON(status, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"call_id":         st.Call.ID,
		"call_sid":        st.Call.ProviderRef,
		"conversation_id": st.Call.ConversationRef,
		"backend":         st.Call.Backend,
		"status":          st.Call.Status,
		"questions":       st.Questions(),
	})
}

func startErrorStatus(err error) int {
	switch {
	case errors.Is(err, callflow.ErrInvalidPhone),
		errors.Is(err, callflow.ErrNoQuestions),
		errors.Is(err, callflow.ErrUnknownBackend):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrNoCapacity):
		return http.StatusTooManyRequests
	case errors.Is(err, callflow.ErrDispatch):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h Handlers) ListCalls(c *gin.Context) {
	f, err := parseListFilter(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := h.Records.ListCalls(c.Request.Context(), f)
	if err != nil {
		logger.FromGin(c).Error("list calls failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list calls failed"})
		return
	}
	out := gin.H{"calls": rows, "count": len(rows)}
	if h.Reports != nil {
		sum, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{Range: reporting.TimeRange{From: f.From, To: f.To}})
		if err == nil {
			out["summary"] = sum
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) GetCall(c *gin.Context) {
	id, ok := callID(c)
	if !ok {
		return
	}
	st, err := h.Calls.Snapshot(c.Request.Context(), id)
	if errors.Is(err, callflow.ErrUnknownCall) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"call":       st.Call,
		"questions":  st.Slots,
		"answers":    st.Answers,
		"pointer":    st.Pointer,
		"transcript": st.Transcript,
	})
}

func (h Handlers) GetResults(c *gin.Context) {
	id, ok := callID(c)
	if !ok {
		return
	}
	res, err := h.Reports.Results(c.Request.Context(), id)
	switch {
	case errors.Is(err, reporting.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case err != nil:
		logger.FromGin(c).Error("results failed", "call_id", id, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "results failed"})
	default:
		c.JSON(http.StatusOK, res)
	}
}

func (h Handlers) GetWebhooks(c *gin.Context) {
	id, ok := callID(c)
	if !ok {
		return
	}
	limit, err := limitParam(c.Query("limit"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	evs, err := h.Webhooks.ListByCall(c.Request.Context(), id, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook log lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": id, "events": evs})
}

func (h Handlers) ListQuestionSets(c *gin.Context) {
	sets := []questions.Preset{}
	if h.Presets != nil {
		sets = h.Presets.List()
	}
	c.JSON(http.StatusOK, gin.H{"question_sets": sets})
}

func callID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid call id"})
		return 0, false
	}
	return id, true
}

func parseListFilter(c *gin.Context) (records.ListFilter, error) {
	var f records.ListFilter
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := c.Query(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New(p.key + " must be RFC3339")
		}
		*p.dst = t
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		return f, errors.New("to must be after from")
	}
	if s := c.Query("status"); s != "" {
		st := calls.Status(s)
		switch st {
		case calls.StatusCreated, calls.StatusRinging, calls.StatusInProgress, calls.StatusCompleted, calls.StatusFailed:
			f.Status = st
		default:
			return f, errors.New("unknown status " + s)
		}
	}
	limit, err := limitParam(c.Query("limit"))
	if err != nil {
		return f, err
	}
	f.Limit = limit
	return f, nil
}

func limitParam(v string) (int, error) {
	if v == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}
