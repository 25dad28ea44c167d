package di

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/adapters/httpapi"
	"github.com/mikey/sortana/internal/classifier"
	"github.com/mikey/sortana/internal/config"
	"github.com/mikey/sortana/internal/core"
	"github.com/mikey/sortana/internal/factory"
	"github.com/mikey/sortana/internal/logging"
	"github.com/mikey/sortana/internal/metrics"
	"github.com/mikey/sortana/internal/ports"
	"github.com/mikey/sortana/internal/settings"
	"github.com/mikey/sortana/internal/sorter"
)

// BuildContainer creates and configures the daemon's dependency injection
// container. An empty configFile searches the default locations.
func BuildContainer(configFile string) (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(func() (*config.Config, error) {
		if configFile != "" {
			return config.NewFromFile(configFile)
		}
		return config.New()
	}); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(zap.NewAtomicLevel); err != nil {
		return nil, err
	}
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register metrics
	if err := container.Provide(func() *prometheus.Registry {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		return reg
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(reg *prometheus.Registry) *metrics.Metrics {
		return metrics.New(reg)
	}); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewLLMFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewMailStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewIngestFactory); err != nil {
		return nil, err
	}

	// Register collaborators
	if err := container.Provide(func(f *factory.StoreFactory) (core.Store, error) {
		return f.CreateStore(context.Background())
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(f *factory.LLMFactory) (core.Completer, error) {
		return f.CreateCompleter(context.Background())
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(f *factory.MailStoreFactory) (ports.MailBackend, error) {
		return f.CreateMailStore()
	}); err != nil {
		return nil, err
	}

	// Register sorter service
	if err := container.Provide(newSorter); err != nil {
		return nil, err
	}

	// Register inbound sources
	if err := container.Provide(func(f *factory.IngestFactory, mail ports.MailBackend, svc *sorter.Service, m *metrics.Metrics) []ports.Ingestor {
		return f.CreateIngestors(mail, svc, m)
	}); err != nil {
		return nil, err
	}

	// Register HTTP API
	if err := container.Provide(func(cfg *config.Config, svc *sorter.Service, reg *prometheus.Registry, m *metrics.Metrics, logger *zap.Logger) *httpapi.Server {
		gin.SetMode(gin.ReleaseMode)
		serverCfg := cfg.GetServer()

		opts := httpapi.Options{Recorder: m}
		if serverCfg.Metrics {
			opts.Gatherer = reg
		}
		router := httpapi.NewRouter(svc, logger.Named("http"), opts)
		return httpapi.NewServer(serverCfg.ListenAddress, router, logger.Named("http"))
	}); err != nil {
		return nil, err
	}

	return container, nil
}

func newSorter(
	cfg *config.Config,
	mail ports.MailBackend,
	store core.Store,
	completer core.Completer,
	level zap.AtomicLevel,
	m *metrics.Metrics,
	logger *zap.Logger,
) *sorter.Service {
	clsCfg := cfg.GetClassifier()
	return sorter.New(mail, store, completer, logger, sorter.Options{
		Defaults: settings.Defaults(cfg),
		Breaker: classifier.BreakerSettings{
			MaxFailures: clsCfg.MaxFailures,
			OpenTimeout: clsCfg.OpenTimeout,
		},
		ErrorHold: cfg.GetQueueErrorHold(),
		Level:     &level,
		Metrics:   m,
	})
}
