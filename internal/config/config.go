package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/go-playground/validator/v10"
)

const (
	BackendAgentEngine = "agent-engine"
	BackendArk         = "ark"

	StoreMemory = "memory"
	StoreRedis  = "redis"

	ValidationTrust    = "trust"
	ValidationRegistry = "registry"
)

var validate = validator.New()

// Config aggregates the service configuration.
type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Agent   AgentConfig
	Session SessionConfig
	AI      AIConfig
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	agent, err := loadAgentConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:  server,
		Log:     logCfg,
		Agent:   agent,
		Session: session,
		AI:      ai,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerations and backend-specific requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch c.Agent.Backend {
	case BackendAgentEngine:
		if c.Agent.ResourceName() == "" {
			return fmt.Errorf("AGENT_RESOURCE_ID is required for the %s backend", BackendAgentEngine)
		}
	case BackendArk:
		if !c.AI.Enabled() {
			return fmt.Errorf("ark credentials missing: the %s backend needs ARK_API_KEY and Model, or an AK/SK pair", BackendArk)
		}
	}

	if c.Session.Store == StoreRedis && c.Session.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required when SESSION_STORE=%s", StoreRedis)
	}
	return nil
}

// ServerConfig describes the HTTP server.
type ServerConfig struct {
	Addr  string `validate:"required"`
	Title string
}

// loadServerConfig resolves the listen address.
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	title := getEnvOrDefault("APP_TITLE", "Agent Chat")

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as given.
		return ServerConfig{Addr: port, Title: title}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, Title: title}, nil
}

// LogConfig describes log output.
type LogConfig struct {
	Level  string `validate:"oneof=trace debug info warn error"`
	Format string `validate:"oneof=console json"`
	Caller bool
}

func loadLogConfig() (LogConfig, error) {
	caller, err := parseBoolEnv("LOG_CALLER", false)
	if err != nil {
		return LogConfig{}, err
	}

	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "console")),
		Caller: caller,
	}, nil
}

// AgentConfig describes the remote Agent Engine and relay behaviour.
type AgentConfig struct {
	Backend         string `validate:"oneof=agent-engine ark"`
	Project         string
	Location        string
	ResourceID      string
	Endpoint        string
	CredentialsFile string
	DefaultUserID   string        `validate:"required"`
	SessionTimeout  time.Duration `validate:"gte=0"`
	QueryTimeout    time.Duration `validate:"gte=0"`
}

// ResourceName returns the full reasoning engine name. A bare engine id is
// expanded with the configured project and location.
func (c AgentConfig) ResourceName() string {
	id := strings.Trim(strings.TrimSpace(c.ResourceID), "/")
	if id == "" || strings.HasPrefix(id, "projects/") {
		return id
	}
	if c.Project == "" || c.Location == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/locations/%s/reasoningEngines/%s", c.Project, c.Location, id)
}

// APIEndpoint returns the regional Vertex AI endpoint unless overridden.
func (c AgentConfig) APIEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	location := c.Location
	if id := c.ResourceName(); strings.HasPrefix(id, "projects/") {
		// projects/{p}/locations/{l}/reasoningEngines/{id}
		if parts := strings.Split(id, "/"); len(parts) >= 4 && parts[2] == "locations" {
			location = parts[3]
		}
	}
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com", location)
}

func loadAgentConfig() (AgentConfig, error) {
	sessionTimeout, err := parseDurationEnv("AGENT_SESSION_TIMEOUT", 30*time.Second)
	if err != nil {
		return AgentConfig{}, err
	}

	queryTimeout, err := parseDurationEnv("AGENT_QUERY_TIMEOUT", 120*time.Second)
	if err != nil {
		return AgentConfig{}, err
	}

	credentials := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	if credentials == "" {
		// Fall back to the service account key shipped next to the binary.
		if _, err := os.Stat("agent-engine-sa-key.json"); err == nil {
			credentials = "agent-engine-sa-key.json"
		}
	}

	return AgentConfig{
		Backend:         strings.ToLower(getEnvOrDefault("AGENT_BACKEND", BackendAgentEngine)),
		Project:         strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT")),
		Location:        getEnvOrDefault("GOOGLE_CLOUD_LOCATION", "us-central1"),
		ResourceID:      strings.TrimSpace(os.Getenv("AGENT_RESOURCE_ID")),
		Endpoint:        strings.TrimSpace(os.Getenv("AGENT_API_ENDPOINT")),
		CredentialsFile: credentials,
		DefaultUserID:   getEnvOrDefault("DEFAULT_USER_ID", "web_user"),
		SessionTimeout:  sessionTimeout,
		QueryTimeout:    queryTimeout,
	}, nil
}

// SessionConfig describes the session registry.
type SessionConfig struct {
	Store         string `validate:"oneof=memory redis"`
	Capacity      int    `validate:"gte=0"`
	Validation    string `validate:"oneof=trust registry"`
	RedisAddr     string
	RedisPassword string
	RedisDB       int           `validate:"gte=0"`
	TTL           time.Duration `validate:"gte=0"`
}

func loadSessionConfig() (SessionConfig, error) {
	capacity := 10000
	if override, err := parseOptionalIntEnv("SESSION_CAPACITY"); err != nil {
		return SessionConfig{}, err
	} else if override != nil {
		capacity = *override
	}

	db := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return SessionConfig{}, err
	} else if override != nil {
		db = *override
	}

	ttl, err := parseDurationEnv("SESSION_TTL", 0)
	if err != nil {
		return SessionConfig{}, err
	}

	return SessionConfig{
		Store:         strings.ToLower(getEnvOrDefault("SESSION_STORE", StoreMemory)),
		Capacity:      capacity,
		Validation:    strings.ToLower(getEnvOrDefault("SESSION_VALIDATION", ValidationTrust)),
		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       db,
		TTL:           ttl,
	}, nil
}

// AIConfig configures the local Ark model backend.
type AIConfig struct {
	APIKey       string
	AccessKey    string
	SecretKey    string
	Model        string
	BaseURL      string
	Region       string
	Temperature  *float64
	TopP         *float64
	MaxTokens    *int
	Instruction  string
	HistoryLimit int `validate:"gte=0"`
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a chat model from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials missing: provide ARK_API_KEY and Model, or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	historyLimit := 10
	if override, err := parseOptionalIntEnv("AGENT_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		historyLimit = *override
	}

	return AIConfig{
		APIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:        strings.TrimSpace(os.Getenv("Model")),
		BaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
		Instruction:  strings.TrimSpace(os.Getenv("AGENT_INSTRUCTION")),
		HistoryLimit: historyLimit,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv accepts Go durations ("90s") or plain seconds ("90").
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
