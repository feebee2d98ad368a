package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Conversation: ConversationConfig{
			ID: "default",
		},
		Timing: TimingConfig{
			PollIntervalMs:        500,
			CapturePollIntervalMs: 500,
			StabilityThresholdMs:  1000,
			DeliveryBaseDelayMs:   1000,
			DeliveryMaxDelayMs:    8000,
		},
		Prompt: PromptConfig{
			PassSignal: "[PASS]",
		},
		Store: StoreConfig{
			Backend: "sqlite",
		},
		Gateway: GatewayConfig{
			Port: 18799,
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "token",
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
