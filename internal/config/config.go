// Package config loads the bot settings from the environment and an optional
// YAML file. Keys keep the names operators already use in config files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ovaphlow/pitchfork/service-lounge/internal/cache"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/lounge"
	"github.com/ovaphlow/pitchfork/service-lounge/pkg/utilities"
)

// Config holds the settings. Durations are in the units of the file format.
type Config struct {
	BlacklistContact   string `yaml:"blacklist_contact"`
	EnableSigning      bool   `yaml:"enable_signing"`
	AllowRemoveCommand bool   `yaml:"allow_remove_command"`
	// MediaLimitPeriod is in hours; zero disables the media limit.
	MediaLimitPeriod int  `yaml:"media_limit_period"`
	VCSpamFilter     bool `yaml:"vc_spamfilter"`
	// SignLimitInterval is in seconds.
	SignLimitInterval int `yaml:"sign_limit_interval"`
	// AFKTimeout is in minutes; zero disables the inactivity sweep.
	AFKTimeout int `yaml:"afk_timeout"`
	// VoiceInterval is in seconds.
	VoiceInterval  int    `yaml:"voice_interval"`
	CacheSize      int    `yaml:"cache_size"`
	CacheTTLHours  int    `yaml:"cache_ttl_hours"`
	Secret         string `yaml:"secret"`
	OpsAddr        string `yaml:"ops_addr"`
	OpsTokenSecret string `yaml:"ops_token_secret"`

	// SecretGenerated is set when no secret was configured and a random one
	// was made up for this process.
	SecretGenerated bool `yaml:"-"`
}

func Defaults() Config {
	return Config{
		VCSpamFilter:      true,
		SignLimitInterval: 600,
		VoiceInterval:     60,
		CacheSize:         cache.DefaultSize,
		CacheTTLHours:     int(cache.DefaultRetention / time.Hour),
		OpsAddr:           "127.0.0.1:8431",
	}
}

// Load applies, in order: defaults, LOUNGE_* environment variables, then the
// YAML file at path if path is not empty.
func Load(path string) (*Config, error) {
	c := Defaults()
	if err := c.fromEnv(); err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if c.Secret == "" {
		c.Secret = utilities.NewKSUID()
		c.SecretGenerated = true
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch {
	case c.MediaLimitPeriod < 0:
		return fmt.Errorf("media_limit_period must not be negative")
	case c.SignLimitInterval < 0:
		return fmt.Errorf("sign_limit_interval must not be negative")
	case c.AFKTimeout < 0:
		return fmt.Errorf("afk_timeout must not be negative")
	case c.VoiceInterval <= 0:
		return fmt.Errorf("voice_interval must be positive")
	case c.CacheSize <= 0:
		return fmt.Errorf("cache_size must be positive")
	case c.CacheTTLHours <= 0:
		return fmt.Errorf("cache_ttl_hours must be positive")
	}
	return nil
}

// Lounge converts the settings into the core's config.
func (c *Config) Lounge() lounge.Config {
	return lounge.Config{
		BlacklistContact:   c.BlacklistContact,
		EnableSigning:      c.EnableSigning,
		AllowRemoveCommand: c.AllowRemoveCommand,
		MediaLimitPeriod:   time.Duration(c.MediaLimitPeriod) * time.Hour,
		VoiceSpamFilter:    c.VCSpamFilter,
		VoiceInterval:      time.Duration(c.VoiceInterval) * time.Second,
		SignInterval:       time.Duration(c.SignLimitInterval) * time.Second,
		AFKTimeout:         time.Duration(c.AFKTimeout) * time.Minute,
		Secret:             []byte(c.Secret),
	}
}

func (c *Config) CacheRetention() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

func (c *Config) fromEnv() error {
	strs := map[string]*string{
		"LOUNGE_BLACKLIST_CONTACT": &c.BlacklistContact,
		"LOUNGE_SECRET":            &c.Secret,
		"LOUNGE_OPS_ADDR":          &c.OpsAddr,
		"LOUNGE_OPS_TOKEN_SECRET":  &c.OpsTokenSecret,
	}
	for k, p := range strs {
		if v, ok := os.LookupEnv(k); ok {
			*p = v
		}
	}

	bools := map[string]*bool{
		"LOUNGE_ENABLE_SIGNING":       &c.EnableSigning,
		"LOUNGE_ALLOW_REMOVE_COMMAND": &c.AllowRemoveCommand,
		"LOUNGE_VC_SPAMFILTER":        &c.VCSpamFilter,
	}
	for k, p := range bools {
		v, ok := os.LookupEnv(k)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		*p = b
	}

	ints := map[string]*int{
		"LOUNGE_MEDIA_LIMIT_PERIOD":  &c.MediaLimitPeriod,
		"LOUNGE_SIGN_LIMIT_INTERVAL": &c.SignLimitInterval,
		"LOUNGE_AFK_TIMEOUT":         &c.AFKTimeout,
		"LOUNGE_VOICE_INTERVAL":      &c.VoiceInterval,
		"LOUNGE_CACHE_SIZE":          &c.CacheSize,
		"LOUNGE_CACHE_TTL_HOURS":     &c.CacheTTLHours,
	}
	for k, p := range ints {
		v, ok := os.LookupEnv(k)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		*p = n
	}
	return nil
}
