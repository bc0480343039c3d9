package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	apisrv "github.com/compose-network/pdp-relay/server/api"
)

// Ingress transports.
const (
	TransportZMQ  = "zmq"
	TransportNATS = "nats"
)

// Config holds the complete application configuration
type Config struct {
	Device      DeviceConfig      `mapstructure:"device"       yaml:"device"`
	Ingress     IngressConfig     `mapstructure:"ingress"      yaml:"ingress"`
	Reconciler  ReconcilerConfig  `mapstructure:"reconciler"   yaml:"reconciler"`
	PDPExplorer PDPExplorerConfig `mapstructure:"pdp_explorer" yaml:"pdp_explorer"`
	Queue       QueueConfig       `mapstructure:"queue"        yaml:"queue"`
	API         apisrv.Config     `mapstructure:"api"          yaml:"api"`
	Metrics     MetricsConfig     `mapstructure:"metrics"      yaml:"metrics"`
	Log         LogConfig         `mapstructure:"log"          yaml:"log"`
}

// DeviceConfig holds serial device configuration
type DeviceConfig struct {
	Path         string        `mapstructure:"path"          yaml:"path"          env:"DEVICE_PATH"`
	BaudRate     int           `mapstructure:"baud_rate"     yaml:"baud_rate"     env:"DEVICE_BAUD_RATE"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"  yaml:"settle_delay"  env:"DEVICE_SETTLE_DELAY"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" env:"DEVICE_WRITE_TIMEOUT"`
	StallTimeout time.Duration `mapstructure:"stall_timeout" yaml:"stall_timeout" env:"DEVICE_STALL_TIMEOUT"`
}

// IngressConfig holds configuration of the stage-change receiver
type IngressConfig struct {
	Transport       string     `mapstructure:"transport"        yaml:"transport"        env:"INGRESS_TRANSPORT"`
	BindAddress     string     `mapstructure:"bind_address"     yaml:"bind_address"     env:"INGRESS_BIND_ADDRESS"`
	RejectMalformed bool       `mapstructure:"reject_malformed" yaml:"reject_malformed" env:"INGRESS_REJECT_MALFORMED"`
	NATS            NATSConfig `mapstructure:"nats"             yaml:"nats"`
}

// NATSConfig holds the NATS transport settings
type NATSConfig struct {
	URL           string        `mapstructure:"url"            yaml:"url"            env:"INGRESS_NATS_URL"`
	Subject       string        `mapstructure:"subject"        yaml:"subject"        env:"INGRESS_NATS_SUBJECT"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait" env:"INGRESS_NATS_RECONNECT_WAIT"`
}

// ReconcilerConfig holds reconciliation poller configuration
type ReconcilerConfig struct {
	Enabled        bool          `mapstructure:"enabled"         yaml:"enabled"         env:"RECONCILER_ENABLED"`
	PollInterval   time.Duration `mapstructure:"poll_interval"   yaml:"poll_interval"   env:"RECONCILER_POLL_INTERVAL"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" env:"RECONCILER_REQUEST_TIMEOUT"`
}

// PDPExplorerConfig holds the remote status API settings
type PDPExplorerConfig struct {
	BaseURL    string        `mapstructure:"base_url"    yaml:"base_url"    env:"PDP_EXPLORER_BASE_URL"`
	RootsLimit int           `mapstructure:"roots_limit" yaml:"roots_limit" env:"PDP_EXPLORER_ROOTS_LIMIT"`
	Timeout    time.Duration `mapstructure:"timeout"     yaml:"timeout"     env:"PDP_EXPLORER_TIMEOUT"`
}

// QueueConfig holds status queue configuration
type QueueConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity" env:"QUEUE_CAPACITY"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
	Path    string `mapstructure:"path"    yaml:"path"    env:"METRICS_PATH"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  env:"LOG_LEVEL"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty" env:"LOG_PRETTY"`
	Output string `mapstructure:"output" yaml:"output" env:"LOG_OUTPUT"`
	File   string `mapstructure:"file"   yaml:"file"   env:"LOG_FILE"`
}

// Load loads configuration from file and environment. An empty path skips
// the file and uses defaults plus environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("device.path", d.Device.Path)
	v.SetDefault("device.baud_rate", d.Device.BaudRate)
	v.SetDefault("device.settle_delay", d.Device.SettleDelay)
	v.SetDefault("device.write_timeout", d.Device.WriteTimeout)
	v.SetDefault("device.stall_timeout", d.Device.StallTimeout)

	v.SetDefault("ingress.transport", d.Ingress.Transport)
	v.SetDefault("ingress.bind_address", d.Ingress.BindAddress)
	v.SetDefault("ingress.reject_malformed", d.Ingress.RejectMalformed)
	v.SetDefault("ingress.nats.url", d.Ingress.NATS.URL)
	v.SetDefault("ingress.nats.subject", d.Ingress.NATS.Subject)
	v.SetDefault("ingress.nats.reconnect_wait", d.Ingress.NATS.ReconnectWait)

	v.SetDefault("reconciler.enabled", d.Reconciler.Enabled)
	v.SetDefault("reconciler.poll_interval", d.Reconciler.PollInterval)
	v.SetDefault("reconciler.request_timeout", d.Reconciler.RequestTimeout)

	v.SetDefault("pdp_explorer.base_url", d.PDPExplorer.BaseURL)
	v.SetDefault("pdp_explorer.roots_limit", d.PDPExplorer.RootsLimit)
	v.SetDefault("pdp_explorer.timeout", d.PDPExplorer.Timeout)

	v.SetDefault("queue.capacity", d.Queue.Capacity)

	v.SetDefault("api.enabled", d.API.Enabled)
	v.SetDefault("api.listen_addr", d.API.ListenAddr)
	v.SetDefault("api.read_header_timeout", d.API.ReadHeaderTimeout)
	v.SetDefault("api.read_timeout", d.API.ReadTimeout)
	v.SetDefault("api.write_timeout", d.API.WriteTimeout)
	v.SetDefault("api.idle_timeout", d.API.IdleTimeout)
	v.SetDefault("api.max_header_bytes", d.API.MaxHeaderBytes)
	v.SetDefault("api.enable_cors", d.API.EnableCORS)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("log.output", d.Log.Output)
	v.SetDefault("log.file", d.Log.File)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	return errors.Join(
		c.validateDevice(),
		c.validateIngress(),
		c.validateReconciler(),
		c.validatePDPExplorer(),
		c.validateQueue(),
		c.validateAPI(),
		c.validateLog(),
	)
}

func (c *Config) validateDevice() error {
	if strings.TrimSpace(c.Device.Path) == "" {
		return fmt.Errorf("device.path is required")
	}
	if c.Device.BaudRate <= 0 {
		return fmt.Errorf("device.baud_rate must be positive, got %d", c.Device.BaudRate)
	}
	if c.Device.SettleDelay < 0 {
		return fmt.Errorf("device.settle_delay must not be negative")
	}
	if c.Device.WriteTimeout < 0 {
		return fmt.Errorf("device.write_timeout must not be negative")
	}
	if c.Device.StallTimeout < 0 {
		return fmt.Errorf("device.stall_timeout must not be negative")
	}
	return nil
}

func (c *Config) validateIngress() error {
	switch c.Ingress.Transport {
	case TransportZMQ:
		if strings.TrimSpace(c.Ingress.BindAddress) == "" {
			return fmt.Errorf("ingress.bind_address is required for the zmq transport")
		}
	case TransportNATS:
		if strings.TrimSpace(c.Ingress.NATS.URL) == "" {
			return fmt.Errorf("ingress.nats.url is required for the nats transport")
		}
		if strings.TrimSpace(c.Ingress.NATS.Subject) == "" {
			return fmt.Errorf("ingress.nats.subject is required for the nats transport")
		}
	default:
		return fmt.Errorf("ingress.transport must be %q or %q, got %q", TransportZMQ, TransportNATS, c.Ingress.Transport)
	}
	return nil
}

func (c *Config) validateReconciler() error {
	if !c.Reconciler.Enabled {
		return nil
	}
	if c.Reconciler.PollInterval <= 0 {
		return fmt.Errorf("reconciler.poll_interval must be positive")
	}
	if c.Reconciler.RequestTimeout < 0 {
		return fmt.Errorf("reconciler.request_timeout must not be negative")
	}
	return nil
}

func (c *Config) validatePDPExplorer() error {
	u, err := url.Parse(c.PDPExplorer.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("pdp_explorer.base_url must be an absolute http(s) URL, got %q", c.PDPExplorer.BaseURL)
	}
	if c.PDPExplorer.RootsLimit <= 0 {
		return fmt.Errorf("pdp_explorer.roots_limit must be positive, got %d", c.PDPExplorer.RootsLimit)
	}
	if c.PDPExplorer.Timeout <= 0 {
		return fmt.Errorf("pdp_explorer.timeout must be positive")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive, got %d", c.Queue.Capacity)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.Enabled && strings.TrimSpace(c.API.ListenAddr) == "" {
		return fmt.Errorf("api.listen_addr is required when the api is enabled")
	}
	return nil
}

func (c *Config) validateLog() error {
	switch c.Log.Output {
	case "", "stdout", "stderr":
	case "file":
		if strings.TrimSpace(c.Log.File) == "" {
			return fmt.Errorf("log.file is required when log.output is file")
		}
	default:
		return fmt.Errorf("log.output must be stdout, stderr or file, got %q", c.Log.Output)
	}
	return nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Path:         "/dev/ttyACM1",
			BaudRate:     9600,
			SettleDelay:  2 * time.Second,
			WriteTimeout: 10 * time.Millisecond,
			StallTimeout: time.Second,
		},
		Ingress: IngressConfig{
			Transport:   TransportZMQ,
			BindAddress: "tcp://127.0.0.1:5555",
			NATS: NATSConfig{
				URL:           "nats://127.0.0.1:4222",
				Subject:       "pdp.relay.stage",
				ReconnectWait: 2 * time.Second,
			},
		},
		Reconciler: ReconcilerConfig{
			Enabled:        true,
			PollInterval:   5 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		PDPExplorer: PDPExplorerConfig{
			BaseURL:    "https://calibration.pdp-explorer.eng.filoz.org",
			RootsLimit: 100,
			Timeout:    10 * time.Second,
		},
		Queue: QueueConfig{
			Capacity: 32,
		},
		API: apisrv.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: false,
			Output: "stdout",
		},
	}
}
