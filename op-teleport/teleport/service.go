package teleport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/mantlenetworkio/teleport/op-service/cliapp"
	"github.com/mantlenetworkio/teleport/op-service/httputil"
	opmetrics "github.com/mantlenetworkio/teleport/op-service/metrics"
	oprpc "github.com/mantlenetworkio/teleport/op-service/rpc"
	"github.com/mantlenetworkio/teleport/op-teleport/config"
	"github.com/mantlenetworkio/teleport/op-teleport/metrics"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/backend"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/frontend"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/oracle"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/store"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

type serviceBackend interface {
	frontend.AdminBackend
	oracle.AttestationSource
	Start()
	Stop(ctx context.Context) error
}

var _ serviceBackend = (*backend.Backend)(nil)

type Service struct {
	closing atomic.Bool

	log log.Logger

	backend serviceBackend

	metrics    metrics.Metricer
	metricsSrv *httputil.HTTPServer
	rpcHandler *oprpc.Handler
	httpServer *httputil.HTTPServer
	oracleSrv  *oracle.Server
	oracleAddr string
}

var _ cliapp.Lifecycle = (*Service)(nil)

func FromConfig(ctx context.Context, cfg *config.Config, logger log.Logger) (*Service, error) {
	su := &Service{log: logger}
	if err := su.initFromCLIConfig(ctx, cfg); err != nil {
		return nil, errors.Join(err, su.Stop(ctx)) // try to clean up our failed initialization attempt
	}
	return su, nil
}

func (s *Service) initFromCLIConfig(ctx context.Context, cfg *config.Config) error {
	s.initMetrics(cfg)
	if err := s.initMetricsServer(cfg); err != nil {
		return fmt.Errorf("failed to start Metrics server: %w", err)
	}
	s.initRPCHandler(cfg)
	if err := s.initBackend(ctx, cfg); err != nil {
		return fmt.Errorf("failed to start backend: %w", err)
	}
	if err := s.initAdminAPI(cfg); err != nil {
		return fmt.Errorf("failed to start admin API: %w", err)
	}
	s.initHTTPServer(cfg)
	s.initOracleServer(cfg)
	return nil
}

func (s *Service) initMetrics(cfg *config.Config) {
	if cfg.MetricsConfig.Enabled {
		procName := "default"
		s.metrics = metrics.NewMetrics(procName)
		s.metrics.RecordInfo(cfg.Version)
	} else {
		s.metrics = &metrics.NoopMetrics{}
	}
}

func (s *Service) initMetricsServer(cfg *config.Config) error {
	if !cfg.MetricsConfig.Enabled {
		s.log.Info("Metrics disabled")
		return nil
	}
	m, ok := s.metrics.(opmetrics.RegistryMetricer)
	if !ok {
		return fmt.Errorf("metrics were enabled, but metricer %T does not expose registry for metrics-server", s.metrics)
	}
	s.log.Debug("Starting metrics server", "addr", cfg.MetricsConfig.ListenAddr, "port", cfg.MetricsConfig.ListenPort)
	metricsSrv, err := opmetrics.StartServer(m.Registry(), cfg.MetricsConfig.ListenAddr, cfg.MetricsConfig.ListenPort)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	s.log.Info("Started metrics server", "addr", metricsSrv.Addr())
	s.metricsSrv = metricsSrv
	return nil
}

func (s *Service) initRPCHandler(cfg *config.Config) {
	s.rpcHandler = oprpc.NewHandler(cfg.Version,
		oprpc.WithLogger(s.log),
		oprpc.WithWebsocketEnabled(),
		oprpc.WithHTTPRecorder(s.metrics),
	)
}

func (s *Service) initBackend(ctx context.Context, cfg *config.Config) error {
	sysCfg, err := cfg.System.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load system config: %w", err)
	}
	st := store.NewMemory()
	if cfg.DataDir != "" {
		if st, err = store.Open(cfg.DataDir); err != nil {
			return fmt.Errorf("failed to open data dir: %w", err)
		}
	} else {
		s.log.Warn("No data dir configured, state is kept in memory")
	}
	b, err := backend.FromConfig(ctx, s.log, s.metrics, sysCfg, st, s.rpcHandler)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to setup backend: %w", err), st.Close())
	}
	s.backend = b
	return nil
}

func (s *Service) initAdminAPI(cfg *config.Config) error {
	if !cfg.RPC.EnableAdmin {
		return nil
	}
	s.log.Info("Admin RPC enabled")
	// both services share the admin namespace
	for _, service := range []any{frontend.NewAdminFrontend(s.backend), oprpc.NewCommonAdminAPI(s.log)} {
		if err := s.rpcHandler.AddAPI(rpc.API{
			Namespace:     "admin",
			Service:       service,
			Authenticated: true,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) initHTTPServer(cfg *config.Config) {
	endpoint := net.JoinHostPort(cfg.RPC.ListenAddr, strconv.Itoa(cfg.RPC.ListenPort))
	s.httpServer = httputil.NewHTTPServer(endpoint, s.rpcHandler)
}

func (s *Service) initOracleServer(cfg *config.Config) {
	s.oracleAddr = net.JoinHostPort(cfg.OracleServer.ListenAddr, strconv.Itoa(cfg.OracleServer.ListenPort))
	s.oracleSrv = oracle.NewServer(s.log.New("role", "oracle-server"), s.metrics, s.backend)
}

func (s *Service) Start(ctx context.Context) error {
	s.log.Info("Starting JSON-RPC server")
	if err := s.httpServer.Start(); err != nil {
		return fmt.Errorf("unable to start RPC server: %w", err)
	}
	if err := s.oracleSrv.Start(s.oracleAddr); err != nil {
		return fmt.Errorf("unable to start oracle server: %w", err)
	}
	s.backend.Start()

	s.metrics.RecordUp()
	s.log.Info("JSON-RPC Server started", "endpoint", s.httpServer.HTTPEndpoint(),
		"oracle", s.oracleSrv.Endpoint())
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if !s.closing.CompareAndSwap(false, true) {
		s.log.Warn("Already closing")
		return nil // already closing
	}
	s.log.Info("Stopping JSON-RPC server")
	var result error
	if s.httpServer != nil {
		if err := s.httpServer.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop HTTP server: %w", err))
		}
	}
	if s.rpcHandler != nil {
		s.rpcHandler.Stop()
	}
	s.log.Info("Stopped RPC Server")
	if s.oracleSrv != nil {
		if err := s.oracleSrv.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop oracle server: %w", err))
		}
	}
	if s.backend != nil {
		if err := s.backend.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to close backend: %w", err))
		}
	}
	s.log.Info("Stopped Backend")
	if s.metricsSrv != nil {
		if err := s.metricsSrv.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}
	s.log.Info("JSON-RPC server stopped")
	return result
}

func (s *Service) Stopped() bool {
	return s.closing.Load()
}

func (s *Service) RPC() string {
	return s.httpServer.HTTPEndpoint()
}

// DomainEndpoint is the RPC endpoint serving the teleport namespace of the domain.
func (s *Service) DomainEndpoint(d types.Domain) string {
	return s.RPC() + backend.DomainRoute(d)
}

func (s *Service) OracleEndpoint() string {
	return s.oracleSrv.Endpoint()
}

func (s *Service) Domains() []types.Domain {
	return s.backend.Domains()
}
