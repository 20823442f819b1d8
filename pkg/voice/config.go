package voice

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Audio defaults
const (
	// DefaultSampleRate is the sample rate used when none is configured
	DefaultSampleRate = 16000

	// DefaultChannels is the channel count used when none is configured
	DefaultChannels = 1

	// DefaultReadyThreshold is the buffered duration (seconds) before a clip
	// counts as playable
	DefaultReadyThreshold = 0.5

	// DefaultMaxClipSeconds bounds the backing storage of one sample buffer
	DefaultMaxClipSeconds = 300

	// DefaultRequestTimeout is the per-request activity deadline
	DefaultRequestTimeout = 10 * time.Second

	// DefaultReconnectDelay is the fixed pause between reconnect attempts
	DefaultReconnectDelay = 2 * time.Second

	// DefaultReconnectAttempts bounds reconnection tries; 0 means unlimited
	DefaultReconnectAttempts = 5
)

// Config is the top-level library configuration.
type Config struct {
	// Server holds the remote synthesis endpoint settings
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Audio holds the stream shape defaults
	Audio AudioConfig `yaml:"audio" mapstructure:"audio"`

	// RuntimeCache holds the in-memory clip cache settings
	RuntimeCache RuntimeCacheConfig `yaml:"runtime_cache" mapstructure:"runtime_cache"`

	// DiskCache holds the on-disk clip cache settings
	DiskCache DiskCacheConfig `yaml:"disk_cache" mapstructure:"disk_cache"`

	// DispatchDepth bounds the callback queue between transport goroutines
	// and the callback goroutine
	DispatchDepth int `yaml:"dispatch_depth" mapstructure:"dispatch_depth" env:"SPEECHSTREAM_DISPATCH_DEPTH"`

	// Debug enables debug logging
	Debug bool `yaml:"debug" mapstructure:"debug" env:"SPEECHSTREAM_DEBUG"`
}

// ServerConfig describes the remote synthesis service.
type ServerConfig struct {
	// URL is the websocket endpoint, e.g. wss://api.example.com/voice
	URL string `yaml:"url" mapstructure:"url" env:"SPEECHSTREAM_SERVER_URL"`

	// Token is the bearer token sent by the auth request
	Token string `yaml:"token" mapstructure:"token" env:"SPEECHSTREAM_TOKEN"`

	// RequestTimeout is the per-request activity deadline. Refreshed on every
	// inbound chunk, so a slow but steady stream never times out.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" env:"SPEECHSTREAM_REQUEST_TIMEOUT"`

	// ReconnectAttempts bounds reconnection tries after an unexpected
	// disconnect; 0 retries forever
	ReconnectAttempts int `yaml:"reconnect_attempts" mapstructure:"reconnect_attempts" env:"SPEECHSTREAM_RECONNECT_ATTEMPTS"`

	// ReconnectDelay is the fixed pause between reconnect attempts
	ReconnectDelay time.Duration `yaml:"reconnect_delay" mapstructure:"reconnect_delay" env:"SPEECHSTREAM_RECONNECT_DELAY"`
}

// AudioConfig describes the default stream shape.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate" mapstructure:"sample_rate" env:"SPEECHSTREAM_SAMPLE_RATE"`
	Channels   int `yaml:"channels" mapstructure:"channels" env:"SPEECHSTREAM_CHANNELS"`

	// ReadyThreshold is the buffered seconds before a clip counts as playable
	ReadyThreshold float64 `yaml:"ready_threshold" mapstructure:"ready_threshold" env:"SPEECHSTREAM_READY_THRESHOLD"`

	// MaxClipSeconds bounds the backing storage of one sample buffer
	MaxClipSeconds int `yaml:"max_clip_seconds" mapstructure:"max_clip_seconds"`
}

// RuntimeCachePolicy selects the in-memory eviction policy.
type RuntimeCachePolicy string

const (
	// PolicyLRU evicts least-recently-used clips past count or size limits
	PolicyLRU RuntimeCachePolicy = "lru"

	// PolicyRefCounted evicts clips whose playback count returns to zero
	PolicyRefCounted RuntimeCachePolicy = "refcounted"
)

// RuntimeCacheConfig holds in-memory clip cache settings.
type RuntimeCacheConfig struct {
	Policy RuntimeCachePolicy `yaml:"policy" mapstructure:"policy" env:"SPEECHSTREAM_CACHE_POLICY"`

	// MaxClips bounds the LRU cache by clip count; 0 disables the count limit
	MaxClips int `yaml:"max_clips" mapstructure:"max_clips"`

	// MaxKB bounds the LRU cache by estimated sample memory in KB; 0 disables
	// the size limit
	MaxKB int64 `yaml:"max_kb" mapstructure:"max_kb"`
}

// CacheLocation selects the base storage area for the disk cache.
type CacheLocation string

const (
	// LocationPersistent stores clips in the user cache directory
	LocationPersistent CacheLocation = "persistent"

	// LocationTemporary stores clips under the OS temp directory
	LocationTemporary CacheLocation = "temporary"

	// LocationPreload reads clips from a pre-seeded read-only data directory
	LocationPreload CacheLocation = "preload"
)

// DiskCacheConfig holds on-disk clip cache settings.
type DiskCacheConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" env:"SPEECHSTREAM_DISK_CACHE"`

	// Location picks the base storage area
	Location CacheLocation `yaml:"location" mapstructure:"location"`

	// RelativePath is joined under the base location
	RelativePath string `yaml:"relative_path" mapstructure:"relative_path"`

	// AudioType selects the on-disk codec extension
	AudioType AudioType `yaml:"-" mapstructure:"-"`

	// Compression enables transparent zstd compression of written clips
	Compression bool `yaml:"compression" mapstructure:"compression"`

	// BaseDirOverride bypasses platform directory resolution, mainly for tests
	BaseDirOverride string `yaml:"base_dir" mapstructure:"base_dir"`
}

// DefaultConfig returns the default library configuration.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			RequestTimeout:    DefaultRequestTimeout,
			ReconnectAttempts: DefaultReconnectAttempts,
			ReconnectDelay:    DefaultReconnectDelay,
		},
		Audio: AudioConfig{
			SampleRate:     DefaultSampleRate,
			Channels:       DefaultChannels,
			ReadyThreshold: DefaultReadyThreshold,
			MaxClipSeconds: DefaultMaxClipSeconds,
		},
		RuntimeCache: RuntimeCacheConfig{
			Policy:   PolicyLRU,
			MaxClips: 64,
			MaxKB:    64 * 1024,
		},
		DiskCache: DiskCacheConfig{
			Enabled:      true,
			Location:     LocationPersistent,
			RelativePath: "clips",
			AudioType:    AudioTypePCM16,
			Compression:  true,
		},
		DispatchDepth: DefaultDispatchDepth,
	}
}

// ConfigFromEnv returns the default configuration with environment overrides
// applied (SPEECHSTREAM_* variables).
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads a YAML config file and applies environment overrides on
// top of it.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the configuration for inconsistencies.
func (c Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive")
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		return fmt.Errorf("audio.channels must be 1 or 2")
	}
	switch c.RuntimeCache.Policy {
	case PolicyLRU, PolicyRefCounted:
	default:
		return fmt.Errorf("runtime_cache.policy must be %q or %q", PolicyLRU, PolicyRefCounted)
	}
	switch c.DiskCache.Location {
	case LocationPersistent, LocationTemporary, LocationPreload:
	default:
		return fmt.Errorf("disk_cache.location %q is not recognized", c.DiskCache.Location)
	}
	return nil
}
