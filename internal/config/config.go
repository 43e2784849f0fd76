package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var ErrEmptyEnvironmentVariable = errors.New("empty environment variable")

// Config holds all application configuration
type Config struct {
	Twilio        TwilioConfig
	Transcription TranscriptionConfig
	MQTT          MQTTConfig
	Gate          GateConfig
	Notify        NotifyConfig
	Server        ServerConfig
}

// TwilioConfig holds the Twilio account credentials and sender number
type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
}

// TranscriptionConfig holds the Deepgram live transcription settings
type TranscriptionConfig struct {
	APIKey   string
	Model    string
	Language string
}

// MQTTConfig holds the actuator bus connection settings
type MQTTConfig struct {
	BrokerURL string
	Username  string
	Password  string
	Topic     string
}

// GateConfig holds the access decision settings
type GateConfig struct {
	AccessCode string
}

// NotifyConfig holds the notification fan-out settings
type NotifyConfig struct {
	SMSRecipients   []string
	EmailRecipients []string
	EmailSender     string
	ResendAPIKey    string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// Load reads and validates all required environment variables
func Load() (*Config, error) {
	// Load env.local in non-production environments
	if os.Getenv("GO_ENV") != "production" {
		if err := godotenv.Load("env.local"); err != nil {
			return nil, fmt.Errorf("failed to load env.local: %w", err)
		}
	}

	cfg := &Config{}

	// Twilio configuration
	var err error
	if cfg.Twilio.AccountSID, err = requireEnv("TWILIO_ACCOUNT_SID"); err != nil {
		return nil, err
	}
	if cfg.Twilio.AuthToken, err = requireEnv("TWILIO_AUTH_TOKEN"); err != nil {
		return nil, err
	}
	cfg.Twilio.PhoneNumber = os.Getenv("TWILIO_PHONE_NUMBER")

	// Transcription configuration
	if cfg.Transcription.APIKey, err = requireEnv("DEEPGRAM_API_KEY"); err != nil {
		return nil, err
	}
	cfg.Transcription.Model = getEnvWithDefault("DEEPGRAM_MODEL", "nova-3")
	cfg.Transcription.Language = getEnvWithDefault("DEEPGRAM_LANGUAGE", "en-US")

	// Actuator bus configuration
	if cfg.MQTT.BrokerURL, err = requireEnv("MQTT_BROKER_URL"); err != nil {
		return nil, err
	}
	cfg.MQTT.Username = os.Getenv("MQTT_USERNAME")
	cfg.MQTT.Password = os.Getenv("MQTT_PASSWORD")
	cfg.MQTT.Topic = getEnvWithDefault("MQTT_TOPIC", "default")

	// Gate configuration
	cfg.Gate.AccessCode = getEnvWithDefault("GATE_ACCESS_CODE", "4")

	// Notification configuration
	cfg.Notify.SMSRecipients = splitList(os.Getenv("NOTIFY_NUMBERS"))
	cfg.Notify.EmailRecipients = splitList(os.Getenv("NOTIFY_EMAILS"))
	cfg.Notify.EmailSender = os.Getenv("NOTIFY_EMAIL_SENDER")
	cfg.Notify.ResendAPIKey = os.Getenv("RESEND_API_KEY")

	// Server configuration
	serverPort := getEnvWithDefault("SERVER_PORT", "3000")
	cfg.Server.Port, err = strconv.Atoi(serverPort)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SERVER_PORT: %w", err)
	}

	return cfg, nil
}

// requireEnv retrieves an environment variable or returns an error if empty
func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is not set: %w", key, ErrEmptyEnvironmentVariable)
	}
	return value, nil
}

// getEnvWithDefault retrieves an environment variable or returns a default value
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// splitList parses a comma-separated list, trimming whitespace and dropping
// empty entries
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
