// control/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Typed runtime configuration. Values come from code defaults, then an
// optional file, then HIOLOAD_* environment variables.

package control

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/momentics/hioload-pkt/api"
	"github.com/momentics/hioload-pkt/pool"
	"github.com/momentics/hioload-pkt/protocol"
)

// EnvPrefix prefixes environment overrides, e.g. HIOLOAD_SERVER_MAX_CLIENTS.
const EnvPrefix = "HIOLOAD"

// Config is the full runtime configuration.
type Config struct {
	Codec    CodecConfig    `mapstructure:"codec"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Response ResponseConfig `mapstructure:"response"`
	Server   ServerConfig   `mapstructure:"server"`
	Channel  ChannelConfig  `mapstructure:"channel"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type CodecConfig struct {
	MaxFrameSize  int  `mapstructure:"max_frame_size"`
	MultiRegistry bool `mapstructure:"multi_registry"`
}

type PoolConfig struct {
	SizeClasses  []int `mapstructure:"size_classes"`
	IdlePerClass int   `mapstructure:"idle_per_class"`
}

// ExecutorConfig sizes the worker pool; zero workers means one per CPU.
type ExecutorConfig struct {
	Workers int `mapstructure:"workers"`
}

type ResponseConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	MaxClients           int           `mapstructure:"max_clients"`
	UDPReceiveBufferSize int           `mapstructure:"udp_receive_buffer_size"`
	OpenTimeout          time.Duration `mapstructure:"open_timeout"`
}

// ChannelConfig holds socket options by name, e.g. no_delay: true.
type ChannelConfig struct {
	Options map[string]any `mapstructure:"options"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Codec:    CodecConfig{MaxFrameSize: protocol.DefaultMaxFrameSize, MultiRegistry: true},
		Pool:     PoolConfig{SizeClasses: append([]int(nil), pool.DefaultSizeClasses...), IdlePerClass: pool.DefaultIdlePerClass},
		Executor: ExecutorConfig{Workers: 0},
		Response: ResponseConfig{Timeout: 30 * time.Second},
		Server: ServerConfig{
			MaxClients:           0,
			UDPReceiveBufferSize: api.DefaultUDPReceiveBufferSize,
			OpenTimeout:          10 * time.Second,
		},
		Channel: ChannelConfig{Options: map[string]any{}},
		Log:     LogConfig{Level: "info", Format: "json", Output: "stderr"},
		Metrics: MetricsConfig{Namespace: "hioload"},
	}
}

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader bound to the HIOLOAD_ environment.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// LoadConfig loads path (may be empty) with a fresh Loader.
func LoadConfig(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// Load reads defaults, the optional file at path (format chosen by
// extension) and environment overrides, then validates the result.
func (l *Loader) Load(path string) (*Config, error) {
	l.setDefaults()
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Watch re-reads the config file on change and hands each valid result
// to r. Invalid updates go to onErr and leave the previous config live.
func (l *Loader) Watch(r *Reloader, onErr func(error)) {
	l.v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		r.Trigger(cfg)
	})
	l.v.WatchConfig()
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	d := DefaultConfig()
	l.v.SetDefault("codec.max_frame_size", d.Codec.MaxFrameSize)
	l.v.SetDefault("codec.multi_registry", d.Codec.MultiRegistry)
	l.v.SetDefault("pool.size_classes", d.Pool.SizeClasses)
	l.v.SetDefault("pool.idle_per_class", d.Pool.IdlePerClass)
	l.v.SetDefault("executor.workers", d.Executor.Workers)
	l.v.SetDefault("response.timeout", d.Response.Timeout)
	l.v.SetDefault("server.max_clients", d.Server.MaxClients)
	l.v.SetDefault("server.udp_receive_buffer_size", d.Server.UDPReceiveBufferSize)
	l.v.SetDefault("server.open_timeout", d.Server.OpenTimeout)
	l.v.SetDefault("channel.options", d.Channel.Options)
	l.v.SetDefault("log.level", d.Log.Level)
	l.v.SetDefault("log.format", d.Log.Format)
	l.v.SetDefault("log.output", d.Log.Output)
	l.v.SetDefault("metrics.namespace", d.Metrics.Namespace)
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Codec.MaxFrameSize <= protocol.HeaderSize {
		errs = append(errs, fmt.Errorf("codec.max_frame_size must exceed %d", protocol.HeaderSize))
	}
	if len(c.Pool.SizeClasses) == 0 {
		errs = append(errs, errors.New("pool.size_classes is required"))
	}
	for _, s := range c.Pool.SizeClasses {
		if s <= 0 {
			errs = append(errs, fmt.Errorf("pool.size_classes: %d is not positive", s))
		}
	}
	if c.Pool.IdlePerClass < 0 {
		errs = append(errs, errors.New("pool.idle_per_class must not be negative"))
	}
	if c.Executor.Workers < 0 {
		errs = append(errs, errors.New("executor.workers must not be negative"))
	}
	if c.Response.Timeout <= 0 {
		errs = append(errs, errors.New("response.timeout must be positive"))
	}
	if c.Server.MaxClients < 0 {
		errs = append(errs, errors.New("server.max_clients must not be negative"))
	}
	if c.Server.UDPReceiveBufferSize <= 0 {
		errs = append(errs, errors.New("server.udp_receive_buffer_size must be positive"))
	}
	if _, err := c.ChannelOptions(); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json or console", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ChannelOptions resolves channel.options into typed, validated values.
// so_timeout accepts a millisecond count or a duration string.
func (c *Config) ChannelOptions() (map[api.ChannelOption]any, error) {
	out := make(map[api.ChannelOption]any, len(c.Channel.Options))
	for name, raw := range c.Channel.Options {
		opt, ok := api.ParseChannelOption(name)
		if !ok {
			return nil, api.NewError(api.ErrCodeNotSupported, "unknown channel option").
				Wrap(api.ErrUnsupportedOption).
				WithContext("option", name)
		}
		v, err := coerce(opt, raw)
		if err != nil {
			return nil, api.NewError(api.ErrCodeInvalidArgument, "invalid channel option value").
				Wrap(fmt.Errorf("%w: %w", api.ErrInvalidOptionValue, err)).
				WithContext("option", name)
		}
		kind := api.Reliable
		if !opt.SupportedBy(kind) {
			kind = api.Unreliable
		}
		if v, err = opt.Validate(kind, v); err != nil {
			return nil, err
		}
		out[opt] = v
	}
	return out, nil
}

func coerce(opt api.ChannelOption, raw any) (any, error) {
	if opt.Type() == api.BoolOption {
		return cast.ToBoolE(raw)
	}
	if opt == api.OptSoTimeout {
		if s, ok := raw.(string); ok && strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
			d, err := cast.ToDurationE(s)
			if err != nil {
				return nil, err
			}
			return d, nil
		}
	}
	return cast.ToIntE(raw)
}
