package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Participant validation
	seen := map[string]bool{}
	for i, p := range cfg.Participants {
		path := fmt.Sprintf("participants[%d]", i)
		if p.ID == "" {
			issues = append(issues, ValidationIssue{
				Path:    path + ".id",
				Message: "id is required",
			})
		} else if seen[p.ID] {
			issues = append(issues, ValidationIssue{
				Path:    path + ".id",
				Message: fmt.Sprintf("duplicate participant id %q", p.ID),
			})
		}
		seen[p.ID] = true

		if p.Command == "" {
			issues = append(issues, ValidationIssue{
				Path:    path + ".command",
				Message: "command is required",
			})
		}
		if p.QuietWindowMs < 0 {
			issues = append(issues, ValidationIssue{
				Path:    path + ".quietWindowMs",
				Message: fmt.Sprintf("must not be negative, got %d", p.QuietWindowMs),
			})
		}
	}

	// Timing validation
	timings := []struct {
		path  string
		value int
	}{
		{"timing.pollIntervalMs", cfg.Timing.PollIntervalMs},
		{"timing.capturePollIntervalMs", cfg.Timing.CapturePollIntervalMs},
		{"timing.stabilityThresholdMs", cfg.Timing.StabilityThresholdMs},
		{"timing.deliveryBaseDelayMs", cfg.Timing.DeliveryBaseDelayMs},
		{"timing.deliveryMaxDelayMs", cfg.Timing.DeliveryMaxDelayMs},
		{"timing.captureTimeoutMs", cfg.Timing.CaptureTimeoutMs},
	}
	for _, tm := range timings {
		if tm.value < 0 {
			issues = append(issues, ValidationIssue{
				Path:    tm.path,
				Message: fmt.Sprintf("must not be negative, got %d", tm.value),
			})
		}
	}
	if cfg.Timing.DeliveryBaseDelayMs > 0 && cfg.Timing.DeliveryMaxDelayMs > 0 &&
		cfg.Timing.DeliveryMaxDelayMs < cfg.Timing.DeliveryBaseDelayMs {
		issues = append(issues, ValidationIssue{
			Path:    "timing.deliveryMaxDelayMs",
			Message: "must not be smaller than deliveryBaseDelayMs",
		})
	}

	// Store validation
	validBackends := []string{"sqlite", "memory"}
	if cfg.Store.Backend != "" && !slices.Contains(validBackends, cfg.Store.Backend) {
		issues = append(issues, ValidationIssue{
			Path:    "store.backend",
			Message: fmt.Sprintf("must be one of %v, got %q", validBackends, cfg.Store.Backend),
		})
	}

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Gateway.Bind),
		})
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.customBindHost",
			Message: "required when gateway.bind is custom",
		})
	}

	validAuthModes := []string{"token", "none"}
	if cfg.Gateway.Auth.Mode != "" && !slices.Contains(validAuthModes, cfg.Gateway.Auth.Mode) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.auth.mode",
			Message: fmt.Sprintf("must be one of %v, got %q", validAuthModes, cfg.Gateway.Auth.Mode),
		})
	}
	if cfg.Gateway.Enabled && cfg.Gateway.Auth.Mode == "none" && cfg.Gateway.Bind != "loopback" {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.auth.mode",
			Message: "auth mode none is only allowed on loopback",
		})
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	return issues
}
