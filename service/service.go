// Package service runs the HTTP servers of a long running op-replay process.
package service

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-replay/metrics"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = "8080"

	APIHost = "0.0.0.0"
	APIPort = "8090"
)

// Addresses of the servers. Empty addresses fall back to the defaults, an
// empty metrics address disables the metrics server.
type Addresses struct {
	Healthz string
	Metrics string
	API     string
}

type Service struct {
	Healthz *HealthzServer
	Metrics *MetricsServer // Nil when metrics are disabled
	API     *APIServer     // Nil when the api is not served

	addrs Addresses
}

func New(api *APIServer, addrs Addresses) *Service {
	if addrs.Healthz == "" {
		addrs.Healthz = net.JoinHostPort(HealthzHost, HealthzPort)
	}
	if addrs.API == "" {
		addrs.API = net.JoinHostPort(APIHost, APIPort)
	}
	s := &Service{
		Healthz: &HealthzServer{},
		API:     api,
		addrs:   addrs,
	}
	if addrs.Metrics != "" {
		s.Metrics = &MetricsServer{}
	}
	return s
}

func (s *Service) Start(ctx context.Context) {
	log.Info("service starting")

	go func() {
		log.Info("starting healthz server", "addr", s.addrs.Healthz)
		if err := s.Healthz.Start(ctx, s.addrs.Healthz); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("error starting healthz server", "err", err)
			metrics.RecordErrorDetails("error starting healthz server", err)
		}
	}()

	if s.Metrics != nil {
		go func() {
			log.Info("starting metrics server", "addr", s.addrs.Metrics)
			if err := s.Metrics.Start(ctx, s.addrs.Metrics); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("error starting metrics server", "err", err)
				metrics.RecordErrorDetails("error starting metrics server", err)
			}
		}()
	}

	if s.API != nil {
		go func() {
			log.Info("starting api server", "addr", s.addrs.API)
			if err := s.API.Start(ctx, s.addrs.API); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("error starting api server", "err", err)
				metrics.RecordErrorDetails("error starting api server", err)
			}
		}()
	}

	log.Info("service started")
}

func (s *Service) Shutdown() {
	log.Info("service shutting down")

	if s.API != nil {
		_ = s.API.Shutdown()
		log.Info("api stopped")
	}

	_ = s.Healthz.Shutdown()
	log.Info("healthz stopped")

	if s.Metrics != nil {
		_ = s.Metrics.Shutdown()
		log.Info("metrics stopped")
	}

	log.Info("service stopped")
}
