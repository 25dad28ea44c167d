package extract

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"golang.org/x/net/html/charset"

	"github.com/mikey/sortana/internal/core"
)

func init() {
	message.CharsetReader = charset.NewReaderLabel
}

// ParseMessage reads an RFC 822 message into its structured form.
// Malformed nested multipart sections are truncated rather than failing the whole message.
func ParseMessage(id core.MessageID, r io.Reader) (*core.Message, error) {
	entity, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	root := readPart(entity)
	return &core.Message{
		ID:      id,
		Headers: root.Headers,
		Parts:   []*core.Part{root},
	}, nil
}

func readPart(e *message.Entity) *core.Part {
	p := &core.Part{Headers: HeaderMap(e.Header)}

	contentType, params, err := e.Header.ContentType()
	if err != nil || contentType == "" {
		contentType = "text/plain"
	}
	p.ContentType = contentType
	if disposition, dparams, err := e.Header.ContentDisposition(); err == nil {
		p.Disposition = disposition
		p.Name = dparams["filename"]
	}
	if p.Name == "" {
		p.Name = params["name"]
	}

	if mr := e.MultipartReader(); mr != nil {
		for {
			child, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil && (child == nil || !message.IsUnknownCharset(err)) {
				break
			}
			p.Parts = append(p.Parts, readPart(child))
		}
		return p
	}

	data, _ := io.ReadAll(e.Body)
	p.Size = int64(len(data))
	if strings.HasPrefix(contentType, "text/") {
		p.Body = string(data)
	}
	return p
}

// HeaderMap flattens a header into lower-cased keys with decoded values
func HeaderMap(h message.Header) map[string][]string {
	out := make(map[string][]string)
	fields := h.Fields()
	for fields.Next() {
		key := strings.ToLower(fields.Key())
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		out[key] = append(out[key], value)
	}
	return out
}
