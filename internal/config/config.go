// Package config provides the configuration schema and loader for the
// vexai-msteams bot.
package config

import "time"

// LogLevel controls log verbosity for the bot process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Task selects what the transcription backend does with the audio.
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// IsValid reports whether t is a recognised task.
func (t Task) IsValid() bool {
	return t == TaskTranscribe || t == TaskTranslate
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bot       BotConfig       `yaml:"bot"`
	Backend   BackendConfig   `yaml:"backend"`
	Detection DetectionConfig `yaml:"detection"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
}

// ServerConfig holds the local HTTP (health/metrics) and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for the health and metrics endpoints
	// (e.g., ":8080"). Empty disables the local HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// BotConfig identifies the meeting join and how the bot presents itself.
type BotConfig struct {
	// Name is the bot's display name in the meeting. When set, roster counts
	// include the bot itself.
	Name string `yaml:"name"`

	// Platform is the meeting platform identifier sent in the handshake
	// (e.g., "teams").
	Platform string `yaml:"platform"`

	// MeetingURL is the URL of the meeting the bot joins.
	MeetingURL string `yaml:"meeting_url"`

	// MeetingID is the platform-native meeting identifier.
	MeetingID string `yaml:"meeting_id"`

	// Token authenticates the bot against the transcription backend.
	Token string `yaml:"token"`

	// Language is the initial transcription language code. Empty lets the
	// backend auto-detect.
	Language string `yaml:"language"`

	// Task is "transcribe" or "translate". Defaults to "transcribe".
	Task Task `yaml:"task"`
}

// BackendConfig describes the transcription backend connection.
type BackendConfig struct {
	// URL is the websocket endpoint of the transcription backend
	// (e.g., "ws://whisperlive:9090").
	URL string `yaml:"url"`

	// RetryIntervalSeconds is the fixed delay between reconnection attempts.
	// The relay retries indefinitely; this only spaces the attempts.
	// Defaults to 2.
	RetryIntervalSeconds int `yaml:"retry_interval_seconds"`

	// HandshakeWarnSeconds is how long the relay waits for SERVER_READY
	// before logging a handshake-timeout warning. The connection is kept and
	// audio continues to be dropped. Defaults to 30.
	HandshakeWarnSeconds int `yaml:"handshake_warn_seconds"`
}

// DetectionConfig tunes the speaker detection cadences.
type DetectionConfig struct {
	// DebounceMillis is the minimum interval between two emitted speaking
	// transitions for the same participant. Defaults to 300.
	DebounceMillis int `yaml:"debounce_millis"`

	// PollIntervalMillis is the fixed-period scan over all participant
	// containers. Defaults to 500.
	PollIntervalMillis int `yaml:"poll_interval_millis"`

	// IndicatorPollMillis is the high-frequency sampling pass over known
	// voice-level indicators. Defaults to 150.
	IndicatorPollMillis int `yaml:"indicator_poll_millis"`

	// RosterPollSeconds is the participant roster refresh period.
	// Defaults to 5.
	RosterPollSeconds int `yaml:"roster_poll_seconds"`
}

// LifecycleConfig holds the alone-timeout thresholds. Both default to 10
// seconds; they are independent so deployments can grant a longer grace once
// the meeting has been engaged.
type LifecycleConfig struct {
	// StartupAloneTimeoutSeconds applies before any other participant has
	// ever been seen.
	StartupAloneTimeoutSeconds int `yaml:"startup_alone_timeout_seconds"`

	// EveryoneLeftTimeoutSeconds applies after other participants have been
	// seen at least once.
	EveryoneLeftTimeoutSeconds int `yaml:"everyone_left_timeout_seconds"`
}

// Default cadences applied where the YAML leaves values at zero.
const (
	DefaultRetryInterval    = 2 * time.Second
	DefaultHandshakeWarn    = 30 * time.Second
	DefaultDebounce         = 300 * time.Millisecond
	DefaultPollInterval     = 500 * time.Millisecond
	DefaultIndicatorPoll    = 150 * time.Millisecond
	DefaultRosterPoll       = 5 * time.Second
	DefaultAloneTimeoutSecs = 10
)

// RetryInterval returns the configured relay retry delay or the default.
func (b BackendConfig) RetryInterval() time.Duration {
	if b.RetryIntervalSeconds <= 0 {
		return DefaultRetryInterval
	}
	return time.Duration(b.RetryIntervalSeconds) * time.Second
}

// HandshakeWarn returns the configured handshake warning delay or the default.
func (b BackendConfig) HandshakeWarn() time.Duration {
	if b.HandshakeWarnSeconds <= 0 {
		return DefaultHandshakeWarn
	}
	return time.Duration(b.HandshakeWarnSeconds) * time.Second
}

// Debounce returns the configured debounce window or the default.
func (d DetectionConfig) Debounce() time.Duration {
	if d.DebounceMillis <= 0 {
		return DefaultDebounce
	}
	return time.Duration(d.DebounceMillis) * time.Millisecond
}

// PollInterval returns the configured container poll period or the default.
func (d DetectionConfig) PollInterval() time.Duration {
	if d.PollIntervalMillis <= 0 {
		return DefaultPollInterval
	}
	return time.Duration(d.PollIntervalMillis) * time.Millisecond
}

// IndicatorPoll returns the configured indicator sampling period or the default.
func (d DetectionConfig) IndicatorPoll() time.Duration {
	if d.IndicatorPollMillis <= 0 {
		return DefaultIndicatorPoll
	}
	return time.Duration(d.IndicatorPollMillis) * time.Millisecond
}

// RosterPoll returns the configured roster refresh period or the default.
func (d DetectionConfig) RosterPoll() time.Duration {
	if d.RosterPollSeconds <= 0 {
		return DefaultRosterPoll
	}
	return time.Duration(d.RosterPollSeconds) * time.Second
}

// StartupAloneTimeout returns the startup-phase threshold in seconds.
func (l LifecycleConfig) StartupAloneTimeout() int {
	if l.StartupAloneTimeoutSeconds <= 0 {
		return DefaultAloneTimeoutSecs
	}
	return l.StartupAloneTimeoutSeconds
}

// EveryoneLeftTimeout returns the post-engagement threshold in seconds.
func (l LifecycleConfig) EveryoneLeftTimeout() int {
	if l.EveryoneLeftTimeoutSeconds <= 0 {
		return DefaultAloneTimeoutSecs
	}
	return l.EveryoneLeftTimeoutSeconds
}
