// Package bot – config.go defines all configuration structures for ccbot.
package bot

import (
	"github.com/jholhewres/ccbot/pkg/ccbot/channels/discord"
	"github.com/jholhewres/ccbot/pkg/ccbot/history"
	"github.com/jholhewres/ccbot/pkg/ccbot/llm"
)

// Config holds all bot configuration.
type Config struct {
	// Name is the bot name used in logs.
	Name string `yaml:"name"`

	// Instructions are the base system prompt instructions.
	Instructions string `yaml:"instructions"`

	// Discord is the platform adapter config.
	Discord discord.Config `yaml:"discord"`

	// Redis configures the durable key-value store backing chat history.
	Redis history.RedisConfig `yaml:"redis"`

	// Providers configures the two completion providers.
	Providers ProvidersConfig `yaml:"providers"`

	// Session configures conversation-session tracking.
	Session SessionConfig `yaml:"session"`

	// History configures the chat-history store.
	History HistoryConfig `yaml:"history"`

	// Confirm configures the destructive-action confirmation workflow.
	Confirm ConfirmConfig `yaml:"confirm"`

	// Knowledge configures the static knowledge lookup.
	Knowledge KnowledgeConfig `yaml:"knowledge"`

	// Presence configures the status rotation.
	Presence PresenceConfig `yaml:"presence"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// ProvidersConfig holds both completion providers.
type ProvidersConfig struct {
	Primary   llm.Config `yaml:"primary"`
	Secondary llm.Config `yaml:"secondary"`
}

// SessionConfig configures the session manager.
type SessionConfig struct {
	// TimeoutSeconds is the inactivity window before a session expires.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// SweepIntervalSeconds is how often expired sessions are reclaimed.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// HistoryConfig configures the chat-history store.
type HistoryConfig struct {
	// Cap is the max entries kept per user.
	Cap int `yaml:"cap"`

	// RetentionDays is the TTL window, refreshed on every write.
	RetentionDays int `yaml:"retention_days"`
}

// ConfirmConfig configures the confirmation workflow.
type ConfirmConfig struct {
	// TimeoutSeconds is the reply deadline for confirmation prompts.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// Affirmatives overrides the accepted confirmation tokens.
	Affirmatives []string `yaml:"affirmatives"`
}

// KnowledgeConfig configures the static knowledge base.
type KnowledgeConfig struct {
	// Path is the knowledge JSON file. Empty disables the lookup.
	Path string `yaml:"path"`
}

// PresenceConfig configures the bot status rotation.
type PresenceConfig struct {
	// Statuses is the list of status texts rotated through. Empty disables
	// rotation.
	Statuses []string `yaml:"statuses"`

	// Schedule is the cron spec for rotation (e.g. "@every 5m").
	Schedule string `yaml:"schedule"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:         "ccbot",
		Instructions: "Discord Chat Bot",
		Providers: ProvidersConfig{
			Primary: llm.Config{
				Model:    "gpt-4o-mini",
				Label:    "OpenAI",
				Marker:   "💬",
				Prefixes: []string{"cc", "小c"},
			},
			Secondary: llm.Config{
				BaseURL:  "https://api.deepseek.com/v1",
				Model:    "deepseek-chat",
				Label:    "DeepSeek",
				Marker:   "🧠",
				Prefixes: []string{"yy", "小y"},
			},
		},
		Session: SessionConfig{
			TimeoutSeconds:       30,
			SweepIntervalSeconds: 10,
		},
		History: HistoryConfig{
			Cap:           100,
			RetentionDays: 30,
		},
		Confirm: ConfirmConfig{
			TimeoutSeconds: 30,
		},
		Knowledge: KnowledgeConfig{
			Path: "knowledge.json",
		},
		Presence: PresenceConfig{
			Schedule: "@every 5m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
