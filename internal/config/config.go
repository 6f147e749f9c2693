package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	CORSAllowedOrigins []string
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	RedisTLS           bool
	SessionCacheTTL    time.Duration
	SessionLockTTL     time.Duration
	AdminJWTSecret     string

	// LLM
	LLMProvider         string
	LLMFallbackProvider string
	LLMTimeout          time.Duration
	LLMMaxAttempts      int
	LLMBaseDelay        time.Duration
	LLMMaxDelay         time.Duration
	LLMMaxJitter        time.Duration
	LLMMaxTokens        int
	LLMTemperature      float64
	LLMMaxHistory       int
	OpenAIAPIKey        string
	OpenAIModel         string
	OpenAIBaseURL       string
	BedrockModelID      string
	GeminiAPIKey        string
	GeminiModel         string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Business profile and replies
	ClassifierKeywordsPath string
	BusinessName           string
	BusinessServices       []string
	BusinessCommunes       []string
	SystemPromptPath       string
	ClosingReply           string
	FallbackReply          string

	// Owner notifications
	EmailProvider    string
	SendGridAPIKey   string
	EmailFrom        string
	EmailFromName    string
	NotifyEmails     []string
	NotifyWebhookURL string
	NotifyTimeout    time.Duration

	// Queue-backed dispatcher
	ConversationQueueURL string
	UseMemoryQueue       bool
	WorkerCount          int

	// Follow-up reminders
	FollowUpEnabled   bool
	FollowUpInterval  time.Duration
	FollowUpHotAfter  time.Duration
	FollowUpWarmAfter time.Duration
	FollowUpCooldown  time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),
		SessionCacheTTL:    getEnvAsDuration("SESSION_CACHE_TTL", 24*time.Hour),
		SessionLockTTL:     getEnvAsDuration("SESSION_LOCK_TTL", 2*time.Minute),
		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),

		LLMProvider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "openai"))),
		LLMFallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", ""))),
		LLMTimeout:          getEnvAsDuration("LLM_TIMEOUT", 30*time.Second),
		LLMMaxAttempts:      getEnvAsInt("LLM_MAX_ATTEMPTS", 3),
		LLMBaseDelay:        getEnvAsDuration("LLM_BASE_DELAY", time.Second),
		LLMMaxDelay:         getEnvAsDuration("LLM_MAX_DELAY", 10*time.Second),
		LLMMaxJitter:        getEnvAsDuration("LLM_MAX_JITTER", time.Second),
		LLMMaxTokens:        getEnvAsInt("LLM_MAX_TOKENS", 500),
		LLMTemperature:      getEnvAsFloat("LLM_TEMPERATURE", 0.7),
		LLMMaxHistory:       getEnvAsInt("LLM_MAX_HISTORY", 40),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:         getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", ""),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		ClassifierKeywordsPath: getEnv("CLASSIFIER_KEYWORDS_PATH", ""),
		BusinessName:           getEnv("BUSINESS_NAME", ""),
		BusinessServices:       getEnvAsList("BUSINESS_SERVICES"),
		BusinessCommunes:       getEnvAsList("BUSINESS_COMMUNES"),
		SystemPromptPath:       getEnv("SYSTEM_PROMPT_PATH", ""),
		ClosingReply:           getEnv("CLOSING_REPLY", ""),
		FallbackReply:          getEnv("FALLBACK_REPLY", ""),

		EmailProvider:    strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:   getEnv("SENDGRID_API_KEY", ""),
		EmailFrom:        getEnv("EMAIL_FROM", ""),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "LeadFlow"),
		NotifyEmails:     getEnvAsList("NOTIFY_EMAILS"),
		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		NotifyTimeout:    getEnvAsDuration("NOTIFY_TIMEOUT", 15*time.Second),

		ConversationQueueURL: getEnv("CONVERSATION_QUEUE_URL", ""),
		UseMemoryQueue:       getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:          getEnvAsInt("WORKER_COUNT", 2),

		FollowUpEnabled:   getEnvAsBool("FOLLOWUP_ENABLED", false),
		FollowUpInterval:  getEnvAsDuration("FOLLOWUP_INTERVAL", 30*time.Minute),
		FollowUpHotAfter:  getEnvAsDuration("FOLLOWUP_HOT_AFTER", 12*time.Hour),
		FollowUpWarmAfter: getEnvAsDuration("FOLLOWUP_WARM_AFTER", 24*time.Hour),
		FollowUpCooldown:  getEnvAsDuration("FOLLOWUP_COOLDOWN", 0),
	}
}

// Validate reports settings that would make the service unusable.
func (c *Config) Validate() error {
	var errs []error
	for _, provider := range []string{c.LLMProvider, c.LLMFallbackProvider} {
		switch provider {
		case "":
		case "openai":
			if c.OpenAIAPIKey == "" {
				errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
			}
		case "bedrock":
			if c.BedrockModelID == "" {
				errs = append(errs, errors.New("BEDROCK_MODEL_ID is required for the bedrock provider"))
			}
		case "gemini":
			if c.GeminiAPIKey == "" {
				errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini provider"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown LLM provider %q", provider))
		}
	}
	if c.LLMProvider == "" {
		errs = append(errs, errors.New("LLM_PROVIDER is required"))
	}
	if c.LLMMaxAttempts < 1 {
		errs = append(errs, errors.New("LLM_MAX_ATTEMPTS must be at least 1"))
	}
	switch c.EmailProvider {
	case "stub", "ses":
	case "sendgrid":
		if c.SendGridAPIKey == "" {
			errs = append(errs, errors.New("SENDGRID_API_KEY is required for the sendgrid email provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EMAIL_PROVIDER %q", c.EmailProvider))
	}
	if turn := c.WorstCaseTurn(); c.SessionLockTTL <= turn {
		errs = append(errs, fmt.Errorf("SESSION_LOCK_TTL (%s) must exceed the worst-case turn time (%s)", c.SessionLockTTL, turn))
	}
	if c.Env == "production" && c.AdminJWTSecret == "" {
		errs = append(errs, errors.New("ADMIN_JWT_SECRET is required in production"))
	}
	return errors.Join(errs...)
}

// WorstCaseTurn is the longest a turn can hold the session lock: every LLM
// attempt timing out plus the longest backoff between attempts.
func (c *Config) WorstCaseTurn() time.Duration {
	if c.LLMMaxAttempts < 1 {
		return c.LLMTimeout
	}
	attempts := time.Duration(c.LLMMaxAttempts)
	return attempts*c.LLMTimeout + (attempts-1)*(c.LLMMaxDelay+c.LLMMaxJitter)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blank entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
