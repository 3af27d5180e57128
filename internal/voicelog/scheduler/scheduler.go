// Package scheduler triggers offline retries periodically and when the
// remote endpoint becomes reachable again.
package scheduler

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultInterval      = 15 * time.Minute
	DefaultProbeInterval = 30 * time.Second
	dialTimeout          = 5 * time.Second
)

// Retrier re-dispatches offline records.
type Retrier interface {
	RetryQueuedSegments(ctx context.Context) (int, error)
}

// Probe reports whether the remote service can be reached.
type Probe func(ctx context.Context) bool

// DialProbe returns a Probe that opens a TCP connection to the host of endpoint.
func DialProbe(endpoint string) Probe {
	addr := dialAddr(endpoint)
	return func(ctx context.Context) bool {
		if addr == "" {
			return false
		}
		d := net.Dialer{Timeout: dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}

func dialAddr(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "80"
		default:
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// Config controls the triggers. Zero intervals use the defaults.
type Config struct {
	Interval      time.Duration `mapstructure:"interval"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// Scheduler runs RetryQueuedSegments at startup, every Interval and on every
// offline to online transition seen by the probe.
type Scheduler struct {
	retrier Retrier
	probe   Probe
	cfg     Config

	mu     sync.Mutex
	online bool
	known  bool
	runs   int
}

func New(retrier Retrier, probe Probe, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	return &Scheduler{retrier: retrier, probe: probe, cfg: cfg}
}

// Online reports the last probe result. It is true when no probe is configured.
func (s *Scheduler) Online() bool {
	if s.probe == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Runs returns how many retry passes have been triggered.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.check(ctx)
	s.trigger(ctx, "startup")

	retryTick := time.NewTicker(s.cfg.Interval)
	defer retryTick.Stop()

	var probeC <-chan time.Time
	if s.probe != nil {
		probeTick := time.NewTicker(s.cfg.ProbeInterval)
		defer probeTick.Stop()
		probeC = probeTick.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-retryTick.C:
			s.trigger(ctx, "interval")
		case <-probeC:
			if s.check(ctx) {
				s.trigger(ctx, "online")
			}
		}
	}
}

// check probes connectivity and reports an offline to online transition.
func (s *Scheduler) check(ctx context.Context) bool {
	if s.probe == nil {
		return false
	}
	up := s.probe(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	wasKnown, was := s.known, s.online
	s.known, s.online = true, up
	if wasKnown && was != up {
		log.Info().Bool("online", up).Msg("connectivity changed")
	}
	return wasKnown && !was && up
}

func (s *Scheduler) trigger(ctx context.Context, reason string) {
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()

	n, err := s.retrier.RetryQueuedSegments(ctx)
	if err != nil {
		log.Warn().Err(err).Str("reason", reason).Msg("offline retry pass failed")
		return
	}
	if n > 0 {
		log.Info().Int("dispatched", n).Str("reason", reason).Msg("offline retry pass")
	}
}
