package common

import (
	"fmt"
	"sync"

	"github.com/summa-ledger/summa/common/mlog"
)

// App is the single long-running component a host process embeds alongside
// the rest of its own process. Unlike a standalone midaz-style service that
// launches a whole fleet of named components, summa has exactly one such
// component worth handing to a host this way: the engine's worker fleet
// (see Engine.AsApp). App exists so that component doesn't need its own
// bespoke start/stop wiring in every embedder.
type App interface {
	Run(host *Host) error
}

// HostOption configures a Host.
type HostOption func(h *Host)

// WithLogger attaches a mlog.Logger to the host.
func WithLogger(logger mlog.Logger) HostOption {
	return func(h *Host) {
		h.Logger = logger
	}
}

// Host runs a single embedded App to completion and logs its lifecycle the
// way a host process would log any other background component it owns.
type Host struct {
	Logger mlog.Logger
	name   string
	app    App
	wg     sync.WaitGroup
}

// defaultHostLogLevel is mlog.InfoLevel unless overridden by LOG_LEVEL, used
// for the Host's fallback logger before a real one (e.g.
// common/mzap.ZapLogger) has been wired in via WithLogger.
func defaultHostLogLevel() mlog.LogLevel {
	lvl, err := mlog.ParseLevel(GetenvOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		return mlog.InfoLevel
	}

	return lvl
}

// NewHost builds a Host for app. name labels the app in the host's log
// output. Without WithLogger the host falls back to mlog.GoLogger rather
// than staying silent, since lifecycle messages for a process a caller is
// embedding are worth seeing even before a real logger has been wired in.
func NewHost(name string, app App, opts ...HostOption) *Host {
	h := &Host{name: name, app: app, Logger: &mlog.GoLogger{Level: defaultHostLogLevel()}}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Run starts the embedded app in a goroutine and blocks until it returns.
func (h *Host) Run() {
	h.wg.Add(1)

	fmt.Println(title(h.name))

	h.Logger.Infof("Host: starting %s\n", h.name)

	go func() {
		defer h.wg.Done()

		h.Logger.Info("--")
		h.Logger.Infof("Host: [33m%s[0m starting\n", h.name)

		if err := h.app.Run(h); err != nil {
			h.Logger.Infof("Host: %s error:", h.name)
			h.Logger.Infof("[31m%s[0m", err)
		}

		h.Logger.Infof("Host: %s finished\n", h.name)
	}()

	h.wg.Wait()

	h.Logger.Info("Host: terminated")
}
