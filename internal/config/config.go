package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultSTUN               = "stun:stun.l.google.com:19302"
	DefaultStore              = StoreFile
	DefaultMQTTBroker         = "tcp://localhost:1883"
	DefaultDynamoTable        = "warpchat-rooms"
	DefaultPollInterval       = 2 * time.Second
	DefaultNegotiationTimeout = 60 * time.Second
	DefaultManualTimeout      = 10 * time.Minute
	DefaultICEGatherTimeout   = 10 * time.Second
	DefaultRelayAddr          = ":8080"
	DefaultRelayURL           = "ws://localhost:8080/ws"
)

// Room store backends.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreMQTT     = "mqtt"
	StoreDynamoDB = "dynamodb"
)

var ErrUnknownStore = errors.New("unknown store backend")

// Config holds application configuration
type Config struct {
	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// Where rooms are advertised
	Store        string
	StoreDir     string
	MQTTBroker   string
	DynamoTable  string
	DynamoRegion string

	PollInterval       time.Duration
	NegotiationTimeout time.Duration
	// ManualTimeout bounds the wait for a pasted offer token. Zero waits
	// until the user gives up.
	ManualTimeout    time.Duration
	ICEGatherTimeout time.Duration

	// Relay server
	RelayURL  string
	RelayAddr string
}

// Options for loading config with CLI flag overrides. Zero values mean
// "not set on the command line".
type Options struct {
	ConfigFile   string
	STUNServer   string
	TURNServer   string
	TURNUser     string
	TURNPass     string
	ForceRelay   bool
	Store        string
	StoreDir     string
	MQTTBroker   string
	DynamoTable  string
	DynamoRegion string
	PollInterval time.Duration
	RelayURL     string
	RelayAddr    string
}

// fileConfig mirrors ~/.warpchat/config.yaml.
type fileConfig struct {
	STUNServer         string         `yaml:"stun_server"`
	TURNServer         string         `yaml:"turn_server"`
	TURNUser           string         `yaml:"turn_user"`
	TURNPass           string         `yaml:"turn_pass"`
	ForceRelay         bool           `yaml:"force_relay"`
	Store              string         `yaml:"store"`
	StoreDir           string         `yaml:"store_dir"`
	MQTTBroker         string         `yaml:"mqtt_broker"`
	DynamoTable        string         `yaml:"dynamo_table"`
	DynamoRegion       string         `yaml:"dynamo_region"`
	PollInterval       time.Duration  `yaml:"poll_interval"`
	NegotiationTimeout time.Duration  `yaml:"negotiation_timeout"`
	ManualTimeout      *time.Duration `yaml:"manual_timeout"`
	ICEGatherTimeout   time.Duration  `yaml:"ice_gather_timeout"`
	RelayURL           string         `yaml:"relay_url"`
	RelayAddr          string         `yaml:"relay_addr"`
}

// Dir returns ~/.warpchat.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".warpchat"), nil
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Config file (~/.warpchat/config.yaml or Options.ConfigFile)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	file, err := readFile(opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	storeDir := file.StoreDir
	if dir, err := Dir(); err == nil && storeDir == "" {
		storeDir = filepath.Join(dir, "store")
	}

	cfg := &Config{
		STUNServer:   pick(opts.STUNServer, "STUN_SERVER", file.STUNServer, DefaultSTUN),
		TURNServer:   pick(opts.TURNServer, "TURN_SERVER", file.TURNServer, ""),
		TURNUser:     pick(opts.TURNUser, "TURN_USERNAME", file.TURNUser, ""),
		TURNPass:     pick(opts.TURNPass, "TURN_PASSWORD", file.TURNPass, ""),
		Store:        pick(opts.Store, "WARPCHAT_STORE", file.Store, DefaultStore),
		StoreDir:     pick(opts.StoreDir, "WARPCHAT_STORE_DIR", storeDir, ""),
		MQTTBroker:   pick(opts.MQTTBroker, "MQTT_BROKER", file.MQTTBroker, DefaultMQTTBroker),
		DynamoTable:  pick(opts.DynamoTable, "DYNAMO_TABLE", file.DynamoTable, DefaultDynamoTable),
		DynamoRegion: pick(opts.DynamoRegion, "AWS_REGION", file.DynamoRegion, ""),
		RelayURL:     pick(opts.RelayURL, "RELAY_URL", file.RelayURL, DefaultRelayURL),
		RelayAddr:    pick(opts.RelayAddr, "RELAY_ADDR", file.RelayAddr, DefaultRelayAddr),

		NegotiationTimeout: orDefault(file.NegotiationTimeout, DefaultNegotiationTimeout),
		ManualTimeout:      DefaultManualTimeout,
		ICEGatherTimeout:   orDefault(file.ICEGatherTimeout, DefaultICEGatherTimeout),
	}
	if file.ManualTimeout != nil {
		cfg.ManualTimeout = *file.ManualTimeout
	}

	cfg.ForceRelay = file.ForceRelay
	if v, ok := os.LookupEnv("WARPCHAT_FORCE_RELAY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("WARPCHAT_FORCE_RELAY: %w", err)
		}
		cfg.ForceRelay = b
	}
	if opts.ForceRelay {
		cfg.ForceRelay = true
	}

	cfg.PollInterval = orDefault(file.PollInterval, DefaultPollInterval)
	if v := os.Getenv("WARPCHAT_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("WARPCHAT_POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = d
	}
	if opts.PollInterval > 0 {
		cfg.PollInterval = opts.PollInterval
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreFile, StoreMQTT, StoreDynamoDB:
	default:
		return fmt.Errorf("%w: %q (want memory, file, mqtt or dynamodb)", ErrUnknownStore, c.Store)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.ManualTimeout < 0 {
		return fmt.Errorf("manual timeout must not be negative, got %s", c.ManualTimeout)
	}
	return nil
}

func readFile(path string) (fileConfig, error) {
	var fc fileConfig
	explicit := path != ""
	if !explicit {
		path = os.Getenv("WARPCHAT_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		dir, err := Dir()
		if err != nil {
			return fc, nil
		}
		path = filepath.Join(dir, "config.yaml")
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return fc, nil
	}
	if err != nil {
		return fc, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

func pick(flag, env, file, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	if file != "" {
		return file
	}
	return def
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", strings.TrimPrefix(c.TURNServer, "turn:")),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
