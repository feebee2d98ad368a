package config

// Config is the root configuration for parley. One config file describes one
// hosted conversation: the participants around the table, the coordination
// timing, and the ambient services (store, transcript, gateway, hooks).
type Config struct {
	Conversation ConversationConfig `yaml:"conversation,omitempty"`
	Participants []ParticipantEntry `yaml:"participants,omitempty"`
	Timing       TimingConfig       `yaml:"timing,omitempty"`
	Prompt       PromptConfig       `yaml:"prompt,omitempty"`
	Store        StoreConfig        `yaml:"store,omitempty"`
	Transcript   TranscriptConfig   `yaml:"transcript,omitempty"`
	Gateway      GatewayConfig      `yaml:"gateway,omitempty"`
	Hooks        HooksConfig        `yaml:"hooks,omitempty"`
	Logging      LoggingConfig      `yaml:"logging,omitempty"`
}

// ConversationConfig names the conversation this process hosts.
type ConversationConfig struct {
	ID    string `yaml:"id,omitempty"` // persistence key; defaults to "default"
	Title string `yaml:"title,omitempty"`
}

// ParticipantEntry defines one AI participant and the terminal process
// behind it.
type ParticipantEntry struct {
	ID            string            `yaml:"id"`
	Name          string            `yaml:"name,omitempty"`  // display name; defaults to the ID
	Color         string            `yaml:"color,omitempty"` // display hint, e.g. "#d97757"
	Command       string            `yaml:"command"`
	Args          []string          `yaml:"args,omitempty"`
	Workdir       string            `yaml:"workdir,omitempty"`
	Env           map[string]string `yaml:"env,omitempty"`
	QuietWindowMs int               `yaml:"quietWindowMs,omitempty"` // raw-idle window for this process
}

// TimingConfig tunes the coordination loop. All values are milliseconds;
// zero means use the built-in default, except captureTimeoutMs where zero
// means wait for output indefinitely.
type TimingConfig struct {
	PollIntervalMs        int `yaml:"pollIntervalMs,omitempty"`
	CapturePollIntervalMs int `yaml:"capturePollIntervalMs,omitempty"`
	StabilityThresholdMs  int `yaml:"stabilityThresholdMs,omitempty"`
	DeliveryBaseDelayMs   int `yaml:"deliveryBaseDelayMs,omitempty"`
	DeliveryMaxDelayMs    int `yaml:"deliveryMaxDelayMs,omitempty"`
	CaptureTimeoutMs      int `yaml:"captureTimeoutMs,omitempty"`
}

// PromptConfig controls how participants are prompted about new messages.
type PromptConfig struct {
	Template   string `yaml:"template,omitempty"`
	PassSignal string `yaml:"passSignal,omitempty"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `yaml:"backend,omitempty"` // "sqlite" | "memory"
	Path    string `yaml:"path,omitempty"`    // sqlite file; defaults under the data dir
}

// TranscriptConfig controls where transcript files are written.
type TranscriptConfig struct {
	Dir string `yaml:"dir,omitempty"` // defaults to <home>/transcripts
}

// GatewayConfig controls the WebSocket control server.
type GatewayConfig struct {
	Enabled        bool        `yaml:"enabled,omitempty"`
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode  string `yaml:"mode,omitempty"` // "token" | "none"
	Token string `yaml:"token,omitempty"`
}

// HooksConfig declares shell commands to run on conversation events.
type HooksConfig struct {
	MessagePosted       []HookEntry `yaml:"messagePosted,omitempty"`
	ParticipantPassed   []HookEntry `yaml:"participantPassed,omitempty"`
	ConversationStalled []HookEntry `yaml:"conversationStalled,omitempty"`
	ConversationResumed []HookEntry `yaml:"conversationResumed,omitempty"`
	ParticipantJoined   []HookEntry `yaml:"participantJoined,omitempty"`
	ParticipantLeft     []HookEntry `yaml:"participantLeft,omitempty"`
	SessionStart        []HookEntry `yaml:"sessionStart,omitempty"`
	SessionEnd          []HookEntry `yaml:"sessionEnd,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File  string `yaml:"file,omitempty"`  // optional log file in addition to the console
}
