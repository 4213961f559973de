package jsonwatch

import (
	"github.com/hazyhaar/jsonwatch/internal/config"
)

// Config is the top-level jsonwatch configuration. Re-exported from internal.
type Config = config.Config

// SourceConfig describes the watched document.
type SourceConfig = config.SourceConfig

// PollConfig controls the poll cadence.
type PollConfig = config.PollConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// LifecycleConfig controls online/offline announcements.
type LifecycleConfig = config.LifecycleConfig

// Sink types accepted in SinkConfig.Type.
const (
	SinkStdout   = config.SinkStdout
	SinkWebhook  = config.SinkWebhook
	SinkDiscord  = config.SinkDiscord
	SinkSlack    = config.SinkSlack
	SinkTelegram = config.SinkTelegram
)

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes YAML configuration bytes.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}
