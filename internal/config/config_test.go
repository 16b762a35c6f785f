package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func minimal() Config {
	return Config{
		App:  AppConfig{Env: "local", Port: 8080},
		Auth: AuthConfig{JWTSecret: "secret", OperatorAPIKey: "op-key"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "JWT_SECRET", "API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestValidate_MinimalAppliesDefaults(t *testing.T) {
	c := minimal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Call.DefaultBackend != "demo" || c.Call.DispatchTimeout != 10*time.Second || c.Call.GatherTimeout != 15 {
		t.Fatalf("unexpected call defaults %+v", c.Call)
	}
	if c.Call.SweepSchedule != "@every 1m" || c.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("unexpected defaults %+v %+v", c.Call, c.Auth)
	}
	if c.DB.Enabled() || c.Redis.Enabled() {
		t.Fatalf("expected db and redis disabled")
	}
	if c.Call.CacheGrace != 10*time.Minute || c.Call.CacheMaxAge != 24*time.Hour {
		t.Fatalf("unexpected cache expiry defaults %+v", c.Call)
	}
}

func TestValidate_CacheMaxAgeNotBelowGrace(t *testing.T) {
	c := minimal()
	c.Call.CacheGrace = time.Hour
	c.Call.CacheMaxAge = time.Minute
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "CALL_CACHE_MAX_AGE") {
		t.Fatalf("expected max age error, got %v", err)
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := minimal()
	c.App.Env = "production"
	c.Auth.JWTIssuer, c.Auth.JWTAudience = "iss", "aud"
	c.DB = DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "survey"}
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected error for production without DB_SSLMODE, got %v", err)
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := minimal()
	c.DB = DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "survey"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_BackendRequirements(t *testing.T) {
	c := minimal()
	c.Call.DefaultBackend = "twilio"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "TWILIO_ACCOUNT_SID") || !strings.Contains(err.Error(), "PUBLIC_BASE_URL") {
		t.Fatalf("expected twilio requirements, got %v", err)
	}

	c = minimal()
	c.Call.DefaultBackend = "carrier_pigeon"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected unknown backend error")
	}

	c = minimal()
	c.Twilio = TwilioConfig{AccountSID: "AC1", AuthToken: "tok", FromNumber: "+15550000000"}
	c.App.PublicBaseURL = "https://calls.example.com"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Call.DefaultBackend != "twilio" {
		t.Fatalf("expected twilio picked when configured, got %q", c.Call.DefaultBackend)
	}
}

func TestLoad_FromEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	body := "APP_ENV=dev\nJWT_SECRET=s\nOPERATOR_API_KEY=k\nCALL_DISPATCH_TIMEOUT=3s\nCALL_MAX_CONCURRENT=4\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	for _, k := range []string{"APP_ENV", "JWT_SECRET", "OPERATOR_API_KEY", "CALL_DISPATCH_TIMEOUT", "CALL_MAX_CONCURRENT"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("ENV_FILE", path)

	c, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.App.Env != "dev" || c.App.Port != 8080 || c.Call.DispatchTimeout != 3*time.Second || c.Call.MaxConcurrent != 4 {
		t.Fatalf("unexpected config %+v", c)
	}
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	t.Setenv("ENV_FILE", "")
	t.Setenv("APP_ENV", "local")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("OPERATOR_API_KEY", "k")
	t.Setenv("CALL_DISPATCH_TIMEOUT", "soon")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "CALL_DISPATCH_TIMEOUT") {
		t.Fatalf("expected duration error, got %v", err)
	}
}
