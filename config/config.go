// Package config loads the server configuration from YAML.
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort = "1935"
	DefaultAddr = ":" + DefaultPort

	DefaultChunkSize       uint32 = 128
	MaxChunkSize           uint32 = 0x7FFFFFFF
	DefaultPeerBandwidth   uint32 = 2500000
	DefaultWriteQueueSize         = 64
	DefaultPlayerQueueSize        = 256

	FlashMediaServerVersion = "FMS/3,5,7,7009"
	Capabilities            = 31
	Mode                    = 1
)

type Config struct {
	RTMP    RTMPConfig    `yaml:"rtmp"`
	Record  RecordConfig  `yaml:"record"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

type RTMPConfig struct {
	Addr string `yaml:"addr"`
	// App restricts connect to one application name; empty accepts any.
	App             string    `yaml:"app"`
	ReadChunkSize   uint32    `yaml:"read_chunk_size"`
	WriteChunkSize  uint32    `yaml:"write_chunk_size"`
	ReadWindowSize  uint32    `yaml:"read_window_size"`
	WriteWindowSize uint32    `yaml:"write_window_size"`
	PeerBandwidth   uint32    `yaml:"peer_bandwidth"`
	LimitType       string    `yaml:"limit_type"`
	WriteQueueSize  int       `yaml:"write_queue_size"`
	PlayerQueueSize int       `yaml:"player_queue_size"`
	TLS             TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" || t.KeyFile != ""
}

type RecordConfig struct {
	// Dir is where recorded streams are written; empty disables recording.
	Dir string `yaml:"dir"`
}

type MetricsConfig struct {
	// Addr serves /metrics; empty disables the endpoint.
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		RTMP: RTMPConfig{
			Addr:            DefaultAddr,
			ReadChunkSize:   DefaultChunkSize,
			WriteChunkSize:  DefaultChunkSize,
			PeerBandwidth:   DefaultPeerBandwidth,
			LimitType:       "dynamic",
			WriteQueueSize:  DefaultWriteQueueSize,
			PlayerQueueSize: DefaultPlayerQueueSize,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return c, nil
}

// Validate checks ranges and fills zero values that have a default.
func (c *Config) Validate() error {
	if c.RTMP.Addr == "" {
		c.RTMP.Addr = DefaultAddr
	}
	for name, size := range map[string]uint32{
		"read_chunk_size":  c.RTMP.ReadChunkSize,
		"write_chunk_size": c.RTMP.WriteChunkSize,
	} {
		if size == 0 || size > MaxChunkSize {
			return errors.Errorf("invalid %s: %d (must be between 1-%d)", name, size, MaxChunkSize)
		}
	}

	switch strings.ToLower(c.RTMP.LimitType) {
	case "hard", "soft", "dynamic":
		c.RTMP.LimitType = strings.ToLower(c.RTMP.LimitType)
	default:
		return errors.Errorf("invalid limit_type: %q (must be one of: hard, soft, dynamic)", c.RTMP.LimitType)
	}

	if c.RTMP.WriteQueueSize < 0 {
		return errors.Errorf("invalid write_queue_size: %d (must be non-negative)", c.RTMP.WriteQueueSize)
	}
	if c.RTMP.PlayerQueueSize < 0 {
		return errors.Errorf("invalid player_queue_size: %d (must be non-negative)", c.RTMP.PlayerQueueSize)
	}
	if (c.RTMP.TLS.CertFile == "") != (c.RTMP.TLS.KeyFile == "") {
		return errors.New("tls needs both cert_file and key_file")
	}

	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the zap level named by log.level.
func (c *Config) Level() (zapcore.Level, error) {
	if c.Log.Level == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(c.Log.Level))); err != nil {
		return l, errors.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.Log.Level)
	}
	return l, nil
}
