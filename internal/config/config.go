package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// StateManager backend selectors.
const (
	StateInternal = "internal"
	StateExternal = "external"
)

type Config struct {
	Initiator  string           `mapstructure:"initiator"`
	TopicRoot  string           `mapstructure:"topic_root"`
	Fleet      []string         `mapstructure:"fleet"`
	Blockchain BlockchainConfig `mapstructure:"blockchain"`
	State      string           `mapstructure:"state_manager"`
	External   ExternalConfig   `mapstructure:"external"`
	Bus        BusConfig        `mapstructure:"bus"`
	Threads    ThreadsConfig    `mapstructure:"threads"`
}

type BlockchainConfig struct {
	// Key is the hex DER (PKCS#8) private key; a fresh identity is
	// generated when empty.
	Key         string   `mapstructure:"key"`
	PEMFile     string   `mapstructure:"pem_file"`
	SecretWords []string `mapstructure:"secret_words"`
	Encrypt     bool     `mapstructure:"encrypt"`
	// Secure drops inbound messages that fail signature verification.
	Secure bool `mapstructure:"secure"`
}

type ExternalConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Password      string `mapstructure:"password"`
	PubSubChannel string `mapstructure:"pubsub_channel"`
}

func (e ExternalConfig) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

type BusConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Clean    bool   `mapstructure:"clean"`
	ClientID string `mapstructure:"client_id"`
	Prefix   string `mapstructure:"prefix"`
}

// ThreadsConfig sets the worker count per ingress stream.
type ThreadsConfig struct {
	Heartbeats    int `mapstructure:"heartbeats"`
	Notifications int `mapstructure:"notifications"`
	Payloads      int `mapstructure:"payloads"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("state_manager", StateInternal)
	v.SetDefault("blockchain.encrypt", true)
	v.SetDefault("blockchain.secure", true)
	v.SetDefault("threads.heartbeats", 1)
	v.SetDefault("threads.notifications", 1)
	v.SetDefault("threads.payloads", 1)
	v.SetDefault("fleet", []string{"*"})
	v.SetDefault("topic_root", "naeural")
	v.SetDefault("external.host", "localhost")
	v.SetDefault("external.port", 6379)

	// Config file (optional)
	v.SetConfigName("naeural")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.naeural")
	_ = v.ReadInConfig()

	v.SetEnvPrefix("NAEURAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"initiator":         "NAEURAL_INITIATOR",
		"topic_root":        "NAEURAL_TOPIC_ROOT",
		"blockchain.key":    "NAEURAL_BC_KEY",
		"bus.url":                 "NAEURAL_BUS_URL",
		"bus.username":            "NAEURAL_BUS_USERNAME",
		"bus.password":            "NAEURAL_BUS_PASSWORD",
		"bus.prefix":              "NAEURAL_BUS_PREFIX",
		"external.host":           "NAEURAL_REDIS_HOST",
		"external.port":           "NAEURAL_REDIS_PORT",
		"external.password":       "NAEURAL_REDIS_PASSWORD",
		"external.pubsub_channel": "NAEURAL_REDIS_PUBSUB_CHANNEL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, cfg.Validate()
}

// ApplyDefaults fills in the fields a programmatic caller may leave zero.
func (c *Config) ApplyDefaults() {
	if c.Initiator == "" {
		c.Initiator = "go-sdk-" + randomHex(3)
	}
	if c.State == "" {
		c.State = StateInternal
	}
	if c.TopicRoot == "" {
		c.TopicRoot = "naeural"
	}
	if len(c.Fleet) == 0 {
		c.Fleet = []string{"*"}
	}
	if c.Threads.Heartbeats <= 0 {
		c.Threads.Heartbeats = 1
	}
	if c.Threads.Notifications <= 0 {
		c.Threads.Notifications = 1
	}
	if c.Threads.Payloads <= 0 {
		c.Threads.Payloads = 1
	}
}

func (c *Config) Validate() error {
	if c.Bus.URL == "" {
		return fmt.Errorf("required config missing: bus.url")
	}
	switch c.State {
	case StateInternal:
	case StateExternal:
		if c.External.Host == "" {
			return fmt.Errorf("required config missing: external.host")
		}
	default:
		return fmt.Errorf("unknown state_manager %q", c.State)
	}
	return nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
