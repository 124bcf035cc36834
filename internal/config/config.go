package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every setting the service reads from the environment.
type Config struct {
	Server ServerConfig
	Oracle OracleConfig
	Chat   ChatConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	oracle, err := loadOracleConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Oracle: oracle, Chat: chat}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allow passing ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// defaultSystemPrompt steers the companion; injected into every oracle call,
// never recorded as part of the history.
const defaultSystemPrompt = `You are Vent-AI, a compassionate and empathetic AI therapist designed to help people vent their feelings and emotions safely. Your role is to:

1. Listen actively and validate emotions
2. Provide empathetic responses without judgment
3. Ask thoughtful follow-up questions to help users process their feelings
4. Offer gentle guidance and coping strategies when appropriate
5. Maintain a warm, supportive, and understanding tone
6. Never dismiss or minimize someone's feelings
7. Encourage healthy emotional expression
8. Suggest professional help if someone seems in crisis

Keep responses conversational, caring, and focused on emotional support. You're here to help people feel heard and understood.`

// OracleConfig describes the reply-oracle provider.
type OracleConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Temperature  float32
	TopP         float32
	Timeout      time.Duration
}

// Enabled reports whether the required credentials are present.
func (c OracleConfig) Enabled() bool {
	return c.APIKey != "" && c.Model != ""
}

func loadOracleConfig() (OracleConfig, error) {
	temperature, err := parseOptionalFloat32Env("ORACLE_TEMPERATURE")
	if err != nil {
		return OracleConfig{}, err
	}
	temp := float32(0.7)
	if temperature != nil {
		temp = *temperature
	}

	topPOverride, err := parseOptionalFloat32Env("ORACLE_TOP_P")
	if err != nil {
		return OracleConfig{}, err
	}
	topP := float32(1.0)
	if topPOverride != nil {
		topP = *topPOverride
	}

	timeoutSeconds, err := parseOptionalIntEnv("ORACLE_TIMEOUT")
	if err != nil {
		return OracleConfig{}, err
	}
	timeout := 30 * time.Second
	if timeoutSeconds != nil && *timeoutSeconds > 0 {
		timeout = time.Duration(*timeoutSeconds) * time.Second
	}

	prompt := defaultSystemPrompt
	if override := strings.TrimSpace(os.Getenv("ORACLE_SYSTEM_PROMPT")); override != "" {
		prompt = override
	}

	return OracleConfig{
		APIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		BaseURL:      getEnvOrDefault("ORACLE_BASE_URL", "https://models.github.ai/inference"),
		Model:        getEnvOrDefault("ORACLE_MODEL", "openai/gpt-4.1"),
		SystemPrompt: prompt,
		Temperature:  temp,
		TopP:         topP,
		Timeout:      timeout,
	}, nil
}

// ChatConfig tunes conversation behavior.
type ChatConfig struct {
	// HistoryLimit caps the live display window per conversation.
	HistoryLimit int
}

func loadChatConfig() (ChatConfig, error) {
	limit := 50
	if override, err := parseOptionalIntEnv("CHAT_HISTORY_LIMIT"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		if *override < 1 {
			limit = 1
		} else {
			limit = *override
		}
	}
	return ChatConfig{HistoryLimit: limit}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
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

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
