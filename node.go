package lnchan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/lightningnetwork/lnchan/channeldb"
	"github.com/lightningnetwork/lnchan/funding"
	"github.com/lightningnetwork/lnchan/lnwallet"
	"github.com/lightningnetwork/lnchan/lnwallet/chainfee"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// metricsShutdownTimeout bounds how long Stop waits for in-flight
	// scrapes.
	metricsShutdownTimeout = 5 * time.Second
)

// ChainControl bundles the external collaborators a Node opens channels
// with: the on-chain wallet, the transport to peers and the fee source.
type ChainControl struct {
	// Wallet funds channels, derives their keys and broadcasts
	// transactions.
	Wallet lnwallet.Wallet

	// Messenger delivers our messages to peers.
	Messenger lnwallet.PeerMessenger

	// FeeEstimator provides the fee rate of new channels.
	FeeEstimator chainfee.Estimator

	// Clock is used to stamp channel updates. The system clock is used if
	// it is nil.
	Clock clock.Clock
}

// Node wires the channel database, the default funding logic and the
// funding manager together. Peer messages and connected blocks are handed
// to the manager returned by FundingManager.
type Node struct {
	started sync.Once
	stopped sync.Once

	cfg *Config

	db           *channeldb.DB
	feeEstimator chainfee.Estimator
	manager      *funding.Manager
	registry     *prometheus.Registry

	metricsListener net.Listener
	metricsServer   *http.Server
}

// NewNode opens the channel database in the configured data directory and
// creates a funding manager on top of it. Start must be called before the
// manager is used.
func NewNode(cfg *Config, cc *ChainControl) (*Node, error) {
	switch {
	case cc.Wallet == nil:
		return nil, errors.New("wallet required")

	case cc.Messenger == nil:
		return nil, errors.New("peer messenger required")

	case cc.FeeEstimator == nil:
		return nil, errors.New("fee estimator required")
	}

	db, err := channeldb.Open(
		cfg.DataDir, channeldb.OptionSetDBTimeout(cfg.DBTimeout),
		channeldb.OptionNoFreelistSync(!cfg.SyncFreelist),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to open channel db: %w", err)
	}

	logic := lnwallet.NewFundingLogic(&lnwallet.Config{
		Wallet:       cc.Wallet,
		Messenger:    cc.Messenger,
		FeeEstimator: cc.FeeEstimator,
		Policy:       cfg.Channel,
		ChainHash:    *cfg.ChainParams().GenesisHash,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)

	manager, err := funding.NewManager(&funding.Config{
		Logic:       logic,
		Store:       db,
		Clock:       cc.Clock,
		Registerer:  registry,
		MailboxSize: cfg.MailboxSize,
	})
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return &Node{
		cfg:          cfg,
		db:           db,
		feeEstimator: cc.FeeEstimator,
		manager:      manager,
		registry:     registry,
	}, nil
}

// FundingManager returns the manager channels are opened through.
func (n *Node) FundingManager() *funding.Manager {
	return n.manager
}

// Registry returns the registry holding the node's metrics.
func (n *Node) Registry() *prometheus.Registry {
	return n.registry
}

// MetricsAddr returns the address the metrics exporter listens on, or nil
// if it is not running.
func (n *Node) MetricsAddr() net.Addr {
	if n.metricsListener == nil {
		return nil
	}

	return n.metricsListener.Addr()
}

// Start starts the fee estimator, reloads the persisted channels and starts
// the metrics exporter if it is enabled.
func (n *Node) Start(ctx context.Context) error {
	var startErr error
	n.started.Do(func() {
		lnchLog.InfoS(ctx, "Starting channel node",
			"network", n.cfg.Network,
			"data_dir", n.cfg.DataDir)

		if err := n.feeEstimator.Start(); err != nil {
			startErr = fmt.Errorf("unable to start fee "+
				"estimator: %w", err)
			return
		}

		if err := n.manager.Start(ctx); err != nil {
			startErr = err
			return
		}

		if n.cfg.Prometheus.Enable {
			startErr = n.startMetrics(n.cfg.Prometheus.Listen)
		}
	})

	return startErr
}

// startMetrics serves the registry on /metrics at addr.
func (n *Node) startMetrics(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("unable to listen for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		n.registry, promhttp.HandlerOpts{},
	))

	n.metricsListener = listener
	n.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lnchLog.Infof("Prometheus exporter started on %v/metrics",
		listener.Addr())

	go func() {
		err := n.metricsServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			lnchLog.Errorf("Metrics exporter failed: %v", err)
		}
	}()

	return nil
}

// Stop stops the funding manager, the metrics exporter and the fee
// estimator, then closes the channel database.
func (n *Node) Stop() error {
	var stopErr error
	n.stopped.Do(func() {
		lnchLog.Info("Channel node shutting down")

		var errs []error
		if err := n.manager.Stop(); err != nil {
			errs = append(errs, err)
		}

		if n.metricsServer != nil {
			ctx, cancel := context.WithTimeout(
				context.Background(), metricsShutdownTimeout,
			)
			defer cancel()

			err := n.metricsServer.Shutdown(ctx)
			if err != nil {
				errs = append(errs, err)
			}
		}

		if err := n.feeEstimator.Stop(); err != nil {
			errs = append(errs, err)
		}

		if err := n.db.Close(); err != nil {
			errs = append(errs, err)
		}

		stopErr = errors.Join(errs...)
	})

	return stopErr
}
