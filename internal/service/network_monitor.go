package service

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"smsrelay/internal/constants"
	"smsrelay/internal/metrics"
	"smsrelay/internal/models"
)

// ProbeFunc reports whether the network is reachable.
type ProbeFunc func(ctx context.Context) error

// TCPProbe dials address to check reachability.
func TCPProbe(address string) ProbeFunc {
	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// NetworkMonitor tracks connectivity so queued deliveries are held while the
// device is offline. It starts optimistic: online until a probe fails.
type NetworkMonitor struct {
	probe         ProbeFunc
	logger        *logrus.Logger
	checkInterval time.Duration
	probeTimeout  time.Duration

	mu        sync.Mutex
	online    bool
	running   bool
	stopCh    chan struct{}
	callbacks []func(online bool)
}

func NewNetworkMonitor(cfg models.NetworkConfig, probe ProbeFunc, logger *logrus.Logger) *NetworkMonitor {
	if cfg.CheckIntervalSec <= 0 {
		cfg.CheckIntervalSec = constants.DefaultNetworkCheckIntervalSec
	}
	if cfg.ProbeTimeoutSec <= 0 {
		cfg.ProbeTimeoutSec = constants.DefaultNetworkProbeTimeoutSec
	}
	if probe == nil {
		address := cfg.ProbeAddress
		if address == "" {
			address = constants.DefaultNetworkProbeAddress
		}
		probe = TCPProbe(address)
	}
	return &NetworkMonitor{
		probe:         probe,
		logger:        logger,
		checkInterval: time.Duration(cfg.CheckIntervalSec) * time.Second,
		probeTimeout:  time.Duration(cfg.ProbeTimeoutSec) * time.Second,
		online:        true,
	}
}

// Online implements queue.Connectivity.
func (nm *NetworkMonitor) Online() bool {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return nm.online
}

// OnChange registers a callback invoked when connectivity flips.
func (nm *NetworkMonitor) OnChange(callback func(online bool)) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.callbacks = append(nm.callbacks, callback)
}

// Start begins probing in the background.
func (nm *NetworkMonitor) Start(ctx context.Context) {
	nm.mu.Lock()
	if nm.running {
		nm.mu.Unlock()
		nm.logger.Warn("Network monitor is already running")
		return
	}
	nm.stopCh = make(chan struct{})
	nm.running = true
	stopCh := nm.stopCh
	nm.mu.Unlock()

	go nm.monitorLoop(ctx, stopCh)
	nm.logger.Info("Network monitor started")
}

// Stop stops probing.
func (nm *NetworkMonitor) Stop() {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if !nm.running {
		return
	}
	close(nm.stopCh)
	nm.running = false
	nm.logger.Info("Network monitor stopped")
}

func (nm *NetworkMonitor) monitorLoop(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(nm.checkInterval)
	defer ticker.Stop()

	nm.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			nm.Check(ctx)
		}
	}
}

// Check probes once and records the result.
func (nm *NetworkMonitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, nm.probeTimeout)
	err := nm.probe(probeCtx)
	cancel()
	if err != nil && ctx.Err() != nil {
		return nm.Online()
	}

	online := err == nil
	nm.mu.Lock()
	changed := nm.online != online
	nm.online = online
	callbacks := append(([]func(bool))(nil), nm.callbacks...)
	nm.mu.Unlock()

	if online {
		metrics.SetGauge("network_online", 1, nil, "Whether the delivery network is reachable")
	} else {
		metrics.SetGauge("network_online", 0, nil, "Whether the delivery network is reachable")
	}
	if !changed {
		return online
	}

	entry := nm.logger.WithField(LogFieldOnline, online)
	if online {
		entry.Info("Network connectivity restored")
	} else {
		entry.WithError(err).Warn("Network connectivity lost, holding deliveries")
	}
	for _, cb := range callbacks {
		go func(cb func(bool)) {
			defer func() {
				if r := recover(); r != nil {
					nm.logger.WithField("panic", r).Error("Network change callback panicked")
				}
			}()
			cb(online)
		}(cb)
	}
	return online
}
