package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type RateLimiterConfig struct {
	Limit float64 `yaml:"limit"` // Requests per second
	Burst int     `yaml:"burst"` // Burst size
}

type RateLimiters struct {
	Commands RateLimiterConfig `yaml:"commands"`
	System   RateLimiterConfig `yaml:"system"`
	Events   RateLimiterConfig `yaml:"events"`
	Default  RateLimiterConfig `yaml:"default"`
}

type SessionsConfig struct {
	EventChannelSize         int `yaml:"eventChannelSize"`
	WebSocketReadBufferSize  int `yaml:"webSocketReadBufferSize"`
	WebSocketWriteBufferSize int `yaml:"webSocketWriteBufferSize"`
	MaxConnections           int `yaml:"maxConnections"`
}

// Service is the full daemon configuration.
type Service struct {
	HttpBinding    string         `yaml:"httpBinding"`
	ClientDomain   string         `yaml:"clientDomain,omitempty"`
	ApiToken       string         `yaml:"apiToken"`
	DataDir        string         `yaml:"dataDir"`
	TLS            TLS            `yaml:"tls"`
	VolumeTTL      time.Duration  `yaml:"volumeTTL"`
	TrustedProxies []string       `yaml:"trustedProxies,omitempty"`
	RateLimiters   RateLimiters   `yaml:"rateLimiters"`
	Sessions       SessionsConfig `yaml:"sessions"`
}

var (
	ErrConfigFileUnreadable                    = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable                = errors.New("config file is unmarshallable")
	ErrHttpBindingMissing                      = errors.New("httpBinding is missing in config")
	ErrApiTokenMissing                         = errors.New("apiToken is missing in config")
	ErrDataDirMissing                          = errors.New("dataDir is missing in config and is required for volume storage")
	ErrTLSMissing                              = errors.New("TLS configuration incomplete: both cert and key must be provided if one is specified")
	ErrRateLimitersCommandsLimitMissing        = errors.New("rateLimiters.commands.limit is missing in config")
	ErrRateLimitersSystemLimitMissing          = errors.New("rateLimiters.system.limit is missing in config")
	ErrRateLimitersEventsLimitMissing          = errors.New("rateLimiters.events.limit is missing in config")
	ErrRateLimitersDefaultLimitMissing         = errors.New("rateLimiters.default.limit is missing in config")
	ErrSessionsEventChannelSizeMissing         = errors.New("sessions.eventChannelSize is missing or invalid in config")
	ErrSessionsWebSocketReadBufferSizeMissing  = errors.New("sessions.webSocketReadBufferSize is missing or invalid in config")
	ErrSessionsWebSocketWriteBufferSizeMissing = errors.New("sessions.webSocketWriteBufferSize is missing or invalid in config")
	ErrSessionsMaxConnectionsMissing           = errors.New("sessions.maxConnections is missing or invalid in config")
)

func LoadConfig(configFile string) (*Service, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, ErrConfigFileUnreadable
	}

	var cfg Service
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, ErrConfigFileUnmarshallable
	}

	if cfg.HttpBinding == "" {
		return nil, ErrHttpBindingMissing
	}
	if cfg.ApiToken == "" {
		return nil, ErrApiTokenMissing
	}
	if cfg.DataDir == "" {
		return nil, ErrDataDirMissing
	}

	if cfg.TLS.Cert != "" && cfg.TLS.Key == "" ||
		cfg.TLS.Cert == "" && cfg.TLS.Key != "" {
		return nil, ErrTLSMissing
	}

	if cfg.RateLimiters.Commands.Limit == 0 {
		return nil, ErrRateLimitersCommandsLimitMissing
	}
	if cfg.RateLimiters.System.Limit == 0 {
		return nil, ErrRateLimitersSystemLimitMissing
	}
	if cfg.RateLimiters.Events.Limit == 0 {
		return nil, ErrRateLimitersEventsLimitMissing
	}
	if cfg.RateLimiters.Default.Limit == 0 {
		return nil, ErrRateLimitersDefaultLimitMissing
	}

	if cfg.Sessions.EventChannelSize <= 0 {
		return nil, ErrSessionsEventChannelSizeMissing
	}
	if cfg.Sessions.WebSocketReadBufferSize <= 0 {
		return nil, ErrSessionsWebSocketReadBufferSizeMissing
	}
	if cfg.Sessions.WebSocketWriteBufferSize <= 0 {
		return nil, ErrSessionsWebSocketWriteBufferSizeMissing
	}
	if cfg.Sessions.MaxConnections <= 0 {
		return nil, ErrSessionsMaxConnectionsMissing
	}

	return &cfg, nil
}

// GenerateConfig returns a ready-to-edit default configuration.
func GenerateConfig() *Service {
	return &Service{
		HttpBinding:  "127.0.0.1:7380",
		ClientDomain: "localhost",
		ApiToken:     "please_change_this_token_in_production_!!!",
		DataDir:      "data/rfs",
		VolumeTTL:    5 * time.Minute,
		RateLimiters: RateLimiters{
			Commands: RateLimiterConfig{Limit: 200.0, Burst: 400},
			System:   RateLimiterConfig{Limit: 50.0, Burst: 100},
			Events:   RateLimiterConfig{Limit: 200.0, Burst: 400},
			Default:  RateLimiterConfig{Limit: 100.0, Burst: 200},
		},
		Sessions: SessionsConfig{
			EventChannelSize:         1000,
			WebSocketReadBufferSize:  4096,
			WebSocketWriteBufferSize: 4096,
			MaxConnections:           100,
		},
	}
}
