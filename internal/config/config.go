package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// Values come from the environment, optionally seeded from a .env file.
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Twilio     TwilioConfig
	VoiceAgent VoiceAgentConfig
	Call       CallConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable origin webhooks are sent to.
	PublicBaseURL string
}

// DBConfig is optional. Without DB_HOST the service keeps records in memory.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

func (c DBConfig) Enabled() bool { return c.Host != "" }

// RedisConfig is optional. Without REDIS_HOST correlation and capacity stay in process.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool { return c.Host != "" }

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// API keys exchanged for tokens at login, one per role.
	AdminAPIKey    string
	OperatorAPIKey string
	ViewerAPIKey   string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string

	// ValidateSignatures turns on X-Twilio-Signature checks for Twilio webhooks.
	ValidateSignatures bool
}

func (c TwilioConfig) Configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.FromNumber != ""
}

type VoiceAgentConfig struct {
	APIKey        string
	AgentID       string
	PhoneNumberID string
	BaseURL       string
	WebhookSecret string
}

func (c VoiceAgentConfig) Configured() bool {
	return c.APIKey != "" && c.AgentID != ""
}

type CallConfig struct {
	DefaultBackend  string
	DispatchTimeout time.Duration
	// GatherTimeout is in seconds, as Twilio takes it.
	GatherTimeout int
	CacheGrace    time.Duration
	// CacheMaxAge expires cached state of calls that never end.
	CacheMaxAge time.Duration
	// MaxConcurrent caps in-flight calls per backend; 0 is unlimited.
	MaxConcurrent    int
	SweepSchedule    string
	QuestionSetsFile string
	Voice            string
	Language         string
}

// Load reads .env (when present) and the environment, then validates.
func Load() (Config, error) {
	if err := loadDotEnv(strings.TrimSpace(os.Getenv("ENV_FILE"))); err != nil {
		return Config{}, err
	}

	c := Config{}
	var parseErrs []error
	intVar := func(dst *int, key string, def int) {
		n, err := optionalInt(key, def)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		*dst = n
	}
	durVar := func(dst *time.Duration, key string) {
		d, err := optionalDuration(key)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		*dst = d
	}

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	intVar(&c.App.Port, "APP_PORT", 8080)
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	intVar(&c.DB.Port, "DB_PORT", 5432)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	intVar(&c.Redis.Port, "REDIS_PORT", 6379)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	intVar(&c.Redis.DB, "REDIS_DB", 0)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	durVar(&c.Auth.AccessTokenTTL, "JWT_ACCESS_TTL")
	durVar(&c.Auth.RefreshTokenTTL, "JWT_REFRESH_TTL")
	c.Auth.AdminAPIKey = os.Getenv("ADMIN_API_KEY")
	c.Auth.OperatorAPIKey = os.Getenv("OPERATOR_API_KEY")
	c.Auth.ViewerAPIKey = os.Getenv("VIEWER_API_KEY")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.FromNumber = strings.TrimSpace(os.Getenv("TWILIO_PHONE_NUMBER"))
	{
		b, err := optionalBool("TWILIO_VALIDATE_SIGNATURES")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Twilio.ValidateSignatures = b
	}

	c.VoiceAgent.APIKey = os.Getenv("ELEVENLABS_API_KEY")
	c.VoiceAgent.AgentID = strings.TrimSpace(os.Getenv("ELEVENLABS_AGENT_ID"))
	c.VoiceAgent.PhoneNumberID = strings.TrimSpace(os.Getenv("ELEVENLABS_PHONE_NUMBER_ID"))
	c.VoiceAgent.BaseURL = strings.TrimSpace(os.Getenv("ELEVENLABS_BASE_URL"))
	c.VoiceAgent.WebhookSecret = os.Getenv("ELEVENLABS_WEBHOOK_SECRET")

	c.Call.DefaultBackend = strings.TrimSpace(os.Getenv("CALL_DEFAULT_BACKEND"))
	durVar(&c.Call.DispatchTimeout, "CALL_DISPATCH_TIMEOUT")
	intVar(&c.Call.GatherTimeout, "CALL_GATHER_TIMEOUT", 0)
	durVar(&c.Call.CacheGrace, "CALL_CACHE_GRACE")
	durVar(&c.Call.CacheMaxAge, "CALL_CACHE_MAX_AGE")
	intVar(&c.Call.MaxConcurrent, "CALL_MAX_CONCURRENT", 0)
	c.Call.SweepSchedule = strings.TrimSpace(os.Getenv("CALL_SWEEP_SCHEDULE"))
	c.Call.QuestionSetsFile = strings.TrimSpace(os.Getenv("CALL_QUESTION_SETS_FILE"))
	c.Call.Voice = strings.TrimSpace(os.Getenv("CALL_VOICE"))
	c.Call.Language = strings.TrimSpace(os.Getenv("CALL_LANGUAGE"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicBaseURL != "" && !strings.HasPrefix(c.App.PublicBaseURL, "http://") && !strings.HasPrefix(c.App.PublicBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must start with http:// or https://, got %q", c.App.PublicBaseURL))
	}

	if c.DB.Enabled() {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required when DB_HOST is set"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required when DB_HOST is set"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.Redis.Enabled() && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}
	if c.Auth.AdminAPIKey == "" && c.Auth.OperatorAPIKey == "" && c.Auth.ViewerAPIKey == "" {
		errs = append(errs, errors.New("at least one of ADMIN_API_KEY, OPERATOR_API_KEY, VIEWER_API_KEY is required"))
	}

	if c.Twilio.ValidateSignatures {
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required when TWILIO_VALIDATE_SIGNATURES is on"))
		}
		if c.App.PublicBaseURL == "" {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required when TWILIO_VALIDATE_SIGNATURES is on"))
		}
	}

	errs = append(errs, c.validateCall()...)
	return joinErrors(errs)
}

func (c *Config) validateCall() []error {
	var errs []error
	if c.Call.DefaultBackend == "" {
		c.Call.DefaultBackend = "demo"
		if c.Twilio.Configured() {
			c.Call.DefaultBackend = "twilio"
		}
	}
	switch c.Call.DefaultBackend {
	case "demo":
	case "twilio":
		if !c.Twilio.Configured() {
			errs = append(errs, errors.New("CALL_DEFAULT_BACKEND=twilio needs TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER"))
		}
		if c.App.PublicBaseURL == "" {
			errs = append(errs, errors.New("CALL_DEFAULT_BACKEND=twilio needs PUBLIC_BASE_URL"))
		}
	case "voice_agent":
		if !c.VoiceAgent.Configured() {
			errs = append(errs, errors.New("CALL_DEFAULT_BACKEND=voice_agent needs ELEVENLABS_API_KEY and ELEVENLABS_AGENT_ID"))
		}
	case "agent_stream":
		if !c.Twilio.Configured() || !c.VoiceAgent.Configured() || c.App.PublicBaseURL == "" {
			errs = append(errs, errors.New("CALL_DEFAULT_BACKEND=agent_stream needs Twilio, ElevenLabs and PUBLIC_BASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("CALL_DEFAULT_BACKEND must be one of twilio, voice_agent, agent_stream, demo, got %q", c.Call.DefaultBackend))
	}

	if c.Call.DispatchTimeout <= 0 {
		c.Call.DispatchTimeout = 10 * time.Second
	}
	if c.Call.GatherTimeout <= 0 {
		c.Call.GatherTimeout = 15
	}
	if c.Call.CacheGrace <= 0 {
		c.Call.CacheGrace = 10 * time.Minute
	}
	if c.Call.CacheMaxAge <= 0 {
		c.Call.CacheMaxAge = 24 * time.Hour
	}
	if c.Call.CacheMaxAge < c.Call.CacheGrace {
		errs = append(errs, fmt.Errorf("CALL_CACHE_MAX_AGE must not be shorter than CALL_CACHE_GRACE"))
	}
	if c.Call.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("CALL_MAX_CONCURRENT must not be negative, got %d", c.Call.MaxConcurrent))
	}
	if c.Call.SweepSchedule == "" {
		c.Call.SweepSchedule = "@every 1m"
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// loadDotEnv loads path, or ./.env when path is empty. A missing default file is fine.
// Variables already set in the environment win.
func loadDotEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}

func optionalInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration such as 30s, got %q", key, v)
	}
	return d, nil
}

func optionalBool(key string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false, got %q", key, v)
	}
	return b, nil
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
