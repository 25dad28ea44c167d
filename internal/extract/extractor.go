// Package extract flattens a message's MIME tree into the text document a classifier reads.
package extract

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/core"
	"github.com/mikey/sortana/internal/utils"
)

// Options are the user-configurable extraction toggles
type Options struct {
	HTMLToMarkdown     bool
	StripURLParams     bool
	AltTextImages      bool
	CollapseWhitespace bool
	// MaxBodySize bounds the final document in bytes; zero disables the bound
	MaxBodySize int
}

// Extractor builds normalized model input from structured messages
type Extractor struct {
	logger   *zap.Logger
	text     *utils.TextProcessor
	markdown *md.Converter

	mu   sync.RWMutex
	opts Options
}

// New creates an Extractor with the given options
func New(logger *zap.Logger, text *utils.TextProcessor, opts Options) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if text == nil {
		text = utils.NewTextProcessor(logger)
	}
	return &Extractor{
		logger:   logger,
		text:     text,
		markdown: md.NewConverter("", true, nil),
		opts:     opts,
	}
}

// SetOptions replaces the extraction options used by subsequent calls
func (e *Extractor) SetOptions(opts Options) {
	e.mu.Lock()
	e.opts = opts
	e.mu.Unlock()
}

// Options returns the current extraction options
func (e *Extractor) Options() Options {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opts
}

// Extract produces the flattened document for msg. The output is
// deterministic for identical input and options.
func (e *Extractor) Extract(msg *core.Message) string {
	opts := e.Options()

	var bodies, attachments []string
	for _, part := range msg.Parts {
		e.walk(part, opts, &bodies, &attachments)
	}

	var b strings.Builder
	writeHeaders(&b, msg.Headers)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Attachments: %d\n", len(attachments))
	for _, a := range attachments {
		b.WriteString(" - ")
		b.WriteString(a)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(strings.Join(bodies, "\n"))

	return e.text.ProcessText(clean(b.String(), opts), opts.MaxBodySize)
}

// walk visits parts depth-first, collecting text bodies and attachment summaries
func (e *Extractor) walk(p *core.Part, opts Options, bodies, attachments *[]string) {
	if p == nil {
		return
	}
	if len(p.Parts) > 0 {
		for _, child := range p.Parts {
			e.walk(child, opts, bodies, attachments)
		}
		return
	}

	contentType := mediaType(p.ContentType)
	if strings.HasPrefix(contentType, "multipart/") {
		return
	}

	if isAttachment(p, contentType) {
		*attachments = append(*attachments, describeAttachment(p, contentType))
		return
	}

	body := p.Body
	if contentType == "text/html" {
		body = e.renderHTML(body, opts)
	}
	*bodies = append(*bodies, clean(body, opts))
}

func isAttachment(p *core.Part, contentType string) bool {
	if strings.EqualFold(p.Disposition, "attachment") {
		return true
	}
	return contentType != "text/plain" && contentType != "text/html"
}

func describeAttachment(p *core.Part, contentType string) string {
	name := p.Name
	if name == "" {
		name = "unnamed"
	}
	size := p.Size
	if size == 0 {
		size = int64(len(p.Body))
	}
	return fmt.Sprintf("%s (%s, %d bytes)", name, contentType, size)
}

func mediaType(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType == "" {
		return "text/plain"
	}
	return contentType
}

func writeHeaders(b *strings.Builder, headers map[string][]string) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(strings.Join(headers[k], " "))
		b.WriteString("\n")
	}
}
