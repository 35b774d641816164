// Package app wires the pieces a cmd/ binary needs — configuration
// loading, logging, the metrics endpoint, the reactor, and cooperative
// shutdown — behind one Run call, so each cmd/reactor-* main.go stays a
// thin cobra command definition.
package app

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/bp7968h/epoll-reactor/internal/config"
	"github.com/bp7968h/epoll-reactor/internal/handler"
	"github.com/bp7968h/epoll-reactor/internal/metrics"
	"github.com/bp7968h/epoll-reactor/internal/reactor"
	"github.com/bp7968h/epoll-reactor/internal/shutdown"
)

// Flags binds the common set of flags every reactor binary exposes.
type Flags struct {
	ListenAddr         string
	MetricsAddr        string
	ConfigFile         string
	EpollWaitTimeoutMs int
}

// BindFlags registers the common flag set on fs with config.Defaults()
// as the displayed default values.
func BindFlags(fs *pflag.FlagSet) *Flags {
	d := config.Defaults()
	f := &Flags{}
	fs.StringVar(&f.ListenAddr, "listen", d.ListenAddr, "address to listen on (host:port)")
	fs.StringVar(&f.MetricsAddr, "metrics-listen", d.MetricsAddr, "address to serve Prometheus /metrics on (empty disables it)")
	fs.StringVar(&f.ConfigFile, "config", "", "optional configuration file (yaml/json/toml, layered under flags)")
	fs.IntVar(&f.EpollWaitTimeoutMs, "epoll-timeout", d.EpollWaitTimeoutMs, "epoll_wait timeout per cycle, in milliseconds")
	return f
}

// Run loads configuration (layered file < env < flags), constructs the
// handler via newHandler, and drives the reactor until a shutdown
// signal arrives or the reactor reports a catastrophic failure.
func Run(log logrus.FieldLogger, fs *pflag.FlagSet, newHandler func(logrus.FieldLogger) handler.EventHandler) error {
	loader, err := config.NewLoader(flagString(fs, "config"), fs)
	if err != nil {
		return err
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	loader.WatchReloadable(log, func(next config.Config) {
		log.WithField("listen_addr", next.ListenAddr).Info("app: configuration file changed (restart required for listener changes)")
	})

	var mcs *metrics.Collectors
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		mcs = metrics.NewCollectors(reg)
		srv, err := metrics.StartServer(cfg.MetricsAddr, reg)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(ctx)
		}()
	}

	h := newHandler(log)
	r, err := reactor.New(cfg, h, log, mcs)
	if err != nil {
		return err
	}

	sd := shutdown.New()
	stop := sd.NotifyOnSignal()
	defer stop()

	log.WithField("listen_addr", cfg.ListenAddr).Info("app: reactor starting")
	return r.Run(sd)
}

func flagString(fs *pflag.FlagSet, name string) string {
	v, err := fs.GetString(name)
	if err != nil {
		return ""
	}
	return v
}
