package pipeline

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"logsift/internal/indexmap"
	"logsift/internal/kafka"
	"logsift/internal/logparse"
	"logsift/internal/tenant"
)

// ServiceConfig holds runtime settings for the whole consumption side.
type ServiceConfig struct {
	Brokers           []string
	Tenants           []string
	Concurrency       int
	BackpressureRatio float64
	BackpressurePause time.Duration
	HostLookup        bool
	SASL              kafka.SASLConfig
}

// Service registers one consumption unit per configured tenant and tracks
// them for lifecycle management.
type Service struct {
	cfg      ServiceConfig
	resolver *tenant.Resolver
	parser   *logparse.Parser
	queue    *Queue
	indexes  *indexmap.Cache
	logger   *zap.Logger

	units map[string]*TenantConsumer
	wg    sync.WaitGroup
}

func NewService(cfg ServiceConfig, resolver *tenant.Resolver, parser *logparse.Parser, queue *Queue, indexes *indexmap.Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		resolver: resolver,
		parser:   parser,
		queue:    queue,
		indexes:  indexes,
		logger:   logger,
		units:    make(map[string]*TenantConsumer),
	}
}

// Start resolves topics per tenant and launches one consumption unit per
// tenant that has any. A tenant that fails resolution or has no topics is
// skipped; the others still start.
func (s *Service) Start(ctx context.Context) error {
	hostName, hostIP := "", ""
	if s.cfg.HostLookup {
		hostName, hostIP = lookupHost(s.logger)
	}

	for _, id := range s.cfg.Tenants {
		topics, err := s.resolver.TopicsForTenant(ctx, id)
		if err != nil {
			s.logger.Error("tenant resolution failed, skipping tenant",
				zap.String("tenant", id), zap.Error(err))
			continue
		}
		if len(topics) == 0 {
			s.logger.Warn("tenant has no matching topics, skipping tenant",
				zap.String("tenant", id))
			continue
		}

		cfg := ConsumerConfig{
			Tenant:            id,
			Topics:            topics,
			Group:             tenant.GroupForTenant(id),
			Concurrency:       s.cfg.Concurrency,
			BackpressureRatio: s.cfg.BackpressureRatio,
			BackpressurePause: s.cfg.BackpressurePause,
			HostName:          hostName,
			HostIP:            hostIP,
		}
		unit := NewTenantConsumer(cfg, s.sourceFactory(cfg), s.parser, s.queue, s.indexes, s.logger)
		s.units[id] = unit

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			unit.Run(ctx)
		}()

		s.logger.Info("tenant consumer registered",
			zap.String("tenant", id),
			zap.String("group", cfg.Group),
			zap.Int("topics", len(topics)),
			zap.Int("concurrency", cfg.Concurrency),
		)
	}

	if len(s.units) == 0 {
		s.logger.Warn("no tenant consumers registered")
	}
	return nil
}

// sourceFactory builds one independent consumer connection per worker.
func (s *Service) sourceFactory(cfg ConsumerConfig) SourceFactory {
	return func() (kafka.Consumer, error) {
		opts, err := kafka.ConsumerOpts(s.cfg.Brokers, cfg.Group, cfg.Topics, s.cfg.SASL)
		if err != nil {
			return nil, err
		}
		return kafka.NewConsumerClient(opts...)
	}
}

// Tenants returns the ids of the running consumption units.
func (s *Service) Tenants() []string {
	ids := make([]string, 0, len(s.units))
	for id := range s.units {
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until every consumption unit has stopped.
func (s *Service) Wait() {
	s.wg.Wait()
}

// lookupHost resolves the local host name and first usable IP. Failures are
// logged and leave the host fields empty.
func lookupHost(logger *zap.Logger) (string, string) {
	name, err := os.Hostname()
	if err != nil {
		logger.Warn("failed to retrieve host details", zap.Error(err))
		return "", ""
	}

	addrs, err := net.LookupIP(name)
	if err != nil {
		logger.Warn("failed to resolve host address", zap.String("host", name), zap.Error(err))
		return name, ""
	}
	for _, addr := range addrs {
		if addr.IsLoopback() {
			continue
		}
		if v4 := addr.To4(); v4 != nil {
			return name, v4.String()
		}
	}
	return name, ""
}
