package factory

import (
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/adapters/ingest"
	"github.com/mikey/sortana/internal/config"
	"github.com/mikey/sortana/internal/core"
	"github.com/mikey/sortana/internal/ports"
)

// IngestFactory creates the enabled new-mail sources
type IngestFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewIngestFactory creates a new ingest factory
func NewIngestFactory(cfg *config.Config, logger *zap.Logger) *IngestFactory {
	return &IngestFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateIngestors returns every source enabled under ingest.*
func (f *IngestFactory) CreateIngestors(deliverer core.Deliverer, sorter ports.Sorter, recorder ports.IngestRecorder) []ports.Ingestor {
	ingestCfg := f.cfg.GetIngest()

	var out []ports.Ingestor
	if ingestCfg.SMTPEnabled {
		out = append(out, ingest.NewSMTPListener(
			deliverer,
			sorter,
			recorder,
			f.logger.Named("smtp"),
			ingestCfg.SMTPListenAddr,
			ingestCfg.SMTPFolder,
		))
	}
	if ingestCfg.AMQPEnabled {
		out = append(out, ingest.NewAMQPConsumer(ingest.AMQPOptions{
			URL:        ingestCfg.AMQPURL,
			Exchange:   ingestCfg.AMQPExchange,
			RoutingKey: ingestCfg.AMQPRoutingKey,
		}, sorter, recorder, f.logger.Named("amqp")))
	}
	return out
}
