package main

import (
	"context"
	"time"

	"survey-caller/internal/auth"
	"survey-caller/internal/httpapi"
	"survey-caller/internal/rbac"
	"survey-caller/internal/telephony"
	"survey-caller/internal/voiceagent"
	"survey-caller/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app) {
	health := &httpapi.Health{
		TwilioConfigured:     a.cfg.Twilio.Configured(),
		VoiceAgentConfigured: a.cfg.VoiceAgent.Configured(),
		DefaultBackend:       string(a.engine.DefaultBackend()),
	}
	if a.db != nil {
		health.Database = func(ctx context.Context) error { return utils.HealthCheck(ctx, a.db, 2*time.Second) }
	}
	if a.rdb != nil {
		health.Redis = func(ctx context.Context) error { return utils.PingRedis(ctx, a.rdb, 2*time.Second) }
	}

	h := httpapi.Handlers{
		Auth:     a.auth,
		Keys:     a.keys,
		Calls:    a.engine,
		Records:  a.records,
		Reports:  a.reports,
		Webhooks: a.webhook,
		Presets:  a.presets,
		Health:   health,
	}

	// public
	r.GET("/healthz", health.Handle)
	r.GET("/api/health", health.Handle)

	// Twilio webhooks. Signature checks need the public origin Twilio signed against.
	{
		tw := telephony.TwilioWebhookHandler{
			Flow: a.engine,
			Log:  a.webhook,
			IVR: telephony.IVRConfig{
				Voice:         a.cfg.Call.Voice,
				Language:      a.cfg.Call.Language,
				GatherTimeout: a.cfg.Call.GatherTimeout,
			},
			PublicBaseURL: a.cfg.App.PublicBaseURL,
		}
		hooks := r.Group("")
		if a.cfg.Twilio.ValidateSignatures {
			hooks.Use(telephony.RequireSignature(telephony.NewValidator(a.cfg.Twilio.AuthToken), a.cfg.App.PublicBaseURL))
		}
		hooks.POST("/webhooks/twilio/voice", tw.HandleVoice)
		hooks.POST("/webhooks/twilio/answer", tw.HandleAnswer)
		hooks.POST("/webhooks/twilio/status", tw.HandleStatus)
		hooks.POST("/webhooks/twilio/stream", tw.HandleStream)

		// Paths already configured on existing Twilio numbers.
		hooks.POST("/api/voice-flow", tw.HandleVoice)
		hooks.POST("/api/process-answer", tw.HandleAnswer)
		hooks.POST("/api/call-status", tw.HandleStatus)
	}

	// Voice agent webhooks and the media bridge.
	{
		va := voiceagent.Handler{Flow: a.engine, Log: a.webhook, Secret: a.cfg.VoiceAgent.WebhookSecret}
		r.POST("/webhooks/voice-agent", va.HandleWebhook)
		r.POST("/api/elevenlabs-webhook", va.HandleWebhook)
		r.GET("/webhooks/voice-agent/context/:ref", va.HandleContext)

		bridge := voiceagent.Bridge{
			Flow:     a.engine,
			Log:      a.webhook,
			Dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
			Upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		}
		r.GET("/media/:call_id", bridge.HandleMedia)
	}

	// token issuance
	r.POST("/v1/auth/login", h.Login)
	r.POST("/v1/auth/refresh", h.Refresh)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(a.auth))
	{
		v1.GET("/me", h.Me)

		// Viewers read; starting calls needs operator (admin passes every check).
		read := v1.Group("")
		read.Use(rbac.RequireAtLeast(rbac.RoleViewer))
		{
			read.GET("/calls", h.ListCalls)
			read.GET("/calls/:id", h.GetCall)
			read.GET("/calls/:id/results", h.GetResults)
			read.GET("/calls/:id/webhooks", h.GetWebhooks)
			read.GET("/question-sets", h.ListQuestionSets)
		}
		v1.POST("/calls", rbac.RequireAnyRole(rbac.RoleOperator), h.StartCall)
	}
}
