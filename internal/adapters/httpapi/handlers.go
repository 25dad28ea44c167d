package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/adapters/mailstore"
	"github.com/mikey/sortana/internal/classifier"
	"github.com/mikey/sortana/internal/core"
	"github.com/mikey/sortana/internal/sorter"
)

type handler struct {
	cmds   Commands
	logger *zap.Logger
}

type classifyRequest struct {
	Text      string `json:"text"`
	Criterion string `json:"criterion"`
}

type messagesRequest struct {
	MessageIDs []core.MessageID `json:"messageIds" binding:"required"`
}

type folderRequest struct {
	Folder string `json:"folder" binding:"required"`
}

// classify handles POST /v1/classify
func (h *handler) classify(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	v, err := h.cmds.TestClassify(c.Request.Context(), req.Text, req.Criterion)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"match": v.Matched, "reason": v.Reason})
}

// apply handles POST /v1/apply. With ?wait=true the response is sent once
// every id has been processed.
func (h *handler) apply(c *gin.Context) {
	var req messagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	done := h.cmds.ApplyRules(req.MessageIDs...)
	if c.Query("wait") == "true" {
		select {
		case <-done:
			c.JSON(http.StatusOK, gin.H{"processed": len(req.MessageIDs)})
		case <-c.Request.Context().Done():
			c.JSON(http.StatusAccepted, gin.H{"queued": len(req.MessageIDs)})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": len(req.MessageIDs)})
}

// applyFolder handles POST /v1/apply/folder
func (h *handler) applyFolder(c *gin.Context) {
	var req folderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	n, err := h.cmds.ApplyToFolder(c.Request.Context(), req.Folder)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": n})
}

// clearCache handles POST /v1/cache/clear
func (h *handler) clearCache(c *gin.Context) {
	var req messagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	removed, err := h.cmds.ClearCache(c.Request.Context(), req.MessageIDs...)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *handler) queueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.cmds.QueueStatus())
}

func (h *handler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.cmds.Stats(c.Request.Context()))
}

// details handles GET /v1/messages/:id/details
func (h *handler) details(c *gin.Context) {
	d, err := h.cmds.Details(c.Request.Context(), core.MessageID(c.Param("id")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *handler) listRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": h.cmds.Rules(c.Request.Context())})
}

// saveRules handles PUT /v1/rules, replacing the whole rule set
func (h *handler) saveRules(c *gin.Context) {
	var req struct {
		Rules []core.Rule `json:"rules"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.Rules == nil {
		req.Rules = []core.Rule{}
	}

	if err := h.cmds.SaveRules(c.Request.Context(), req.Rules); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": h.cmds.Rules(c.Request.Context())})
}

func (h *handler) reloadSettings(c *gin.Context) {
	s := h.cmds.ReloadSettings(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"endpoint": s.Classifier.Endpoint,
		"template": s.Classifier.TemplateName,
		"debug":    s.Debug,
	})
}

// export handles GET /v1/export?groups=settings,rules
func (h *handler) export(c *gin.Context) {
	doc, err := h.cmds.Export(c.Request.Context(), groups(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// importData handles POST /v1/import?groups=settings,rules
func (h *handler) importData(c *gin.Context) {
	var doc sorter.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document"})
		return
	}

	n, err := h.cmds.Import(c.Request.Context(), doc, groups(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": n})
}

func groups(c *gin.Context) []string {
	var out []string
	for _, v := range c.QueryArray("groups") {
		out = append(out, strings.Split(v, ",")...)
	}
	return lo.Uniq(lo.Compact(lo.Map(out, func(s string, _ int) string { return strings.TrimSpace(s) })))
}

// fail maps a command error onto a response status
func (h *handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrEmptyCriterion),
		errors.Is(err, sorter.ErrUnknownGroup),
		errors.Is(err, sorter.ErrInvalidDocument):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound), errors.Is(err, mailstore.ErrUnknownFolder):
		status = http.StatusNotFound
	case errors.Is(err, classifier.ErrInvalidResponse), isUpstream(err):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Command failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func isUpstream(err error) bool {
	var statusErr *core.StatusError
	return errors.As(err, &statusErr)
}
