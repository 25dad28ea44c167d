// Package httpapi exposes the sorter's inbound commands over HTTP.
package httpapi

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/core"
	"github.com/mikey/sortana/internal/queue"
	"github.com/mikey/sortana/internal/settings"
	"github.com/mikey/sortana/internal/sorter"
)

// Commands is the command surface the API serves
type Commands interface {
	TestClassify(ctx context.Context, text, criterion string) (core.Verdict, error)
	ApplyRules(ids ...core.MessageID) <-chan struct{}
	ApplyToFolder(ctx context.Context, folder string) (int, error)
	ClearCache(ctx context.Context, ids ...core.MessageID) (int, error)
	QueueStatus() sorter.QueueStatus
	Stats(ctx context.Context) queue.Stats
	Details(ctx context.Context, id core.MessageID) (*sorter.Details, error)
	Rules(ctx context.Context) []core.Rule
	SaveRules(ctx context.Context, rules []core.Rule) error
	ReloadSettings(ctx context.Context) settings.Settings
	Export(ctx context.Context, groups []string) (sorter.Document, error)
	Import(ctx context.Context, doc sorter.Document, groups []string) (int, error)
}

// RequestRecorder observes served requests
type RequestRecorder interface {
	HTTPRequest(method, path string, code int, elapsed time.Duration)
}

// Options configures the router
type Options struct {
	// Gatherer, when set, is served on /metrics
	Gatherer prometheus.Gatherer
	Recorder RequestRecorder
}

// NewRouter builds the gin engine for cmds
func NewRouter(cmds Commands, logger *zap.Logger, opts Options) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	// message ids may carry an escaped folder path
	r.UseRawPath = true
	r.UnescapePathValues = true
	r.Use(recovery(logger), requestLog(logger, opts.Recorder))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	h := &handler{cmds: cmds, logger: logger}
	v1 := r.Group("/v1")
	{
		v1.POST("/classify", h.classify)
		v1.POST("/apply", h.apply)
		v1.POST("/apply/folder", h.applyFolder)
		v1.POST("/cache/clear", h.clearCache)
		v1.GET("/queue", h.queueStatus)
		v1.GET("/stats", h.stats)
		v1.GET("/messages/:id/details", h.details)
		v1.GET("/rules", h.listRules)
		v1.PUT("/rules", h.saveRules)
		v1.POST("/settings/reload", h.reloadSettings)
		v1.GET("/export", h.export)
		v1.POST("/import", h.importData)
	}
	return r
}
