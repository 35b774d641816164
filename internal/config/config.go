// Package config loads and hot-reloads the reactor's configuration.
// Loading is layered file < environment < flags, following the viper
// convention the pack's nabbar/golib config package uses.
package config

import (
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the reactor's runtime tunables.
type Config struct {
	ListenAddr              string `mapstructure:"listen_addr"`
	EpollWaitTimeoutMs       int    `mapstructure:"epoll_wait_timeout_ms"`
	MaxEventsPerCycle        int    `mapstructure:"max_events_per_cycle"`
	ShutdownDrainDeadlineMs  int    `mapstructure:"shutdown_drain_deadline_ms"`
	WriteQueueSoftLimitBytes int    `mapstructure:"write_queue_soft_limit_bytes"`
	MetricsAddr              string `mapstructure:"metrics_addr"`
}

// Defaults returns the out-of-the-box configuration.
func Defaults() Config {
	return Config{
		ListenAddr:               "0.0.0.0:9000",
		EpollWaitTimeoutMs:       1000,
		MaxEventsPerCycle:        1024,
		ShutdownDrainDeadlineMs:  5000,
		WriteQueueSoftLimitBytes: 0, // unbounded unless set
		MetricsAddr:              "",
	}
}

// EpollWaitTimeout is the typed form of EpollWaitTimeoutMs.
func (c Config) EpollWaitTimeout() time.Duration {
	return time.Duration(c.EpollWaitTimeoutMs) * time.Millisecond
}

// ShutdownDrainDeadline is the typed form of ShutdownDrainDeadlineMs.
func (c Config) ShutdownDrainDeadline() time.Duration {
	return time.Duration(c.ShutdownDrainDeadlineMs) * time.Millisecond
}

// Loader wires viper: a config file (optional), REACTOR_-prefixed
// environment variables, and bound pflags, in increasing priority.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a Loader with defaults applied and, if flags is
// non-nil, its flags bound (so e.g. --listen overrides everything
// below it).
func NewLoader(configFile string, flags *pflag.FlagSet) (*Loader, error) {
	v := viper.New()
	d := Defaults()
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("epoll_wait_timeout_ms", d.EpollWaitTimeoutMs)
	v.SetDefault("max_events_per_cycle", d.MaxEventsPerCycle)
	v.SetDefault("shutdown_drain_deadline_ms", d.ShutdownDrainDeadlineMs)
	v.SetDefault("write_queue_soft_limit_bytes", d.WriteQueueSoftLimitBytes)
	v.SetDefault("metrics_addr", d.MetricsAddr)

	v.SetEnvPrefix("REACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	if flags != nil {
		// Bind by explicit key->flag-name pair rather than v.BindPFlags,
		// since the CLI's flag names (hyphenated, user-facing) don't
		// match the mapstructure keys (underscored, file/env-facing).
		binds := map[string]string{
			"listen_addr":           "listen",
			"metrics_addr":          "metrics-listen",
			"epoll_wait_timeout_ms": "epoll-timeout",
		}
		for key, flagName := range binds {
			f := flags.Lookup(flagName)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	return &Loader{v: v}, nil
}

// Load materializes the current layered configuration into a Config.
func (l *Loader) Load() (Config, error) {
	var c Config
	if err := l.v.Unmarshal(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// WatchReloadable starts watching the backing config file (if any) and
// invokes onReload with the newly loaded Config whenever it changes.
// Only the subset of fields safe to change at runtime should be acted
// on by onReload — ListenAddr changes require a restart since the core
// does not support rebinding the listener mid-flight.
func (l *Loader) WatchReloadable(log logrus.FieldLogger, onReload func(Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.Load()
		if err != nil {
			log.WithError(err).Warn("config: reload failed, keeping previous configuration")
			return
		}
		log.WithField("file", e.Name).Info("config: reloaded")
		onReload(cfg)
	})
	l.v.WatchConfig()
}
