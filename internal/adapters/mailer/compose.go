package mailer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/core"
)

// DefaultReplyBody is the text of automatic replies
const DefaultReplyBody = "Your message has been received and sorted automatically.\r\n"

// Relay composes forwards and replies for stored messages and sends them
type Relay struct {
	sender    core.Mailer
	from      string
	replyBody string
	logger    *zap.Logger
	now       func() time.Time
}

// NewRelay creates a Relay that sends as from through sender
func NewRelay(sender core.Mailer, from string, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		sender:    sender,
		from:      from,
		replyBody: DefaultReplyBody,
		logger:    logger,
		now:       time.Now,
	}
}

// Forward sends raw to address as a message/rfc822 attachment
func (r *Relay) Forward(ctx context.Context, raw []byte, address string) error {
	orig, err := readHeader(raw)
	if err != nil {
		return err
	}
	to, err := mail.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("invalid forward address %q: %w", address, err)
	}

	subject, _ := orig.Subject()
	h := r.newHeader([]*mail.Address{to}, prefixSubject("Fwd: ", subject))

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return fmt.Errorf("failed to create forward: %w", err)
	}

	var ih mail.InlineHeader
	ih.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := writePart(func() (io.WriteCloser, error) { return mw.CreateSingleInline(ih) },
		"Forwarded message attached.\r\n"); err != nil {
		return err
	}

	var ah mail.AttachmentHeader
	ah.SetContentType("message/rfc822", nil)
	ah.SetFilename("forwarded.eml")
	if err := writePart(func() (io.WriteCloser, error) { return mw.CreateAttachment(ah) }, string(raw)); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finish forward: %w", err)
	}

	r.logger.Info("Forwarding message", zap.String("to", to.Address), zap.String("subject", subject))
	return r.sender.Send(ctx, r.from, []string{to.Address}, buf.Bytes())
}

// Reply answers raw. The recipients follow replyType: the sender, every
// original participant, or the mailing list named by List-Post.
func (r *Relay) Reply(ctx context.Context, raw []byte, replyType core.ReplyType) error {
	orig, err := readHeader(raw)
	if err != nil {
		return err
	}

	recipients := r.replyRecipients(orig, replyType)
	if len(recipients) == 0 {
		return fmt.Errorf("no reply recipients for %s reply", replyType)
	}

	subject, _ := orig.Subject()
	h := r.newHeader(recipients, prefixSubject("Re: ", subject))
	if id, err := orig.MessageID(); err == nil && id != "" {
		refs, _ := orig.MsgIDList("References")
		h.SetMsgIDList("In-Reply-To", []string{id})
		h.SetMsgIDList("References", append(refs, id))
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return fmt.Errorf("failed to create reply: %w", err)
	}
	if _, err := io.WriteString(w, r.replyBody); err != nil {
		return fmt.Errorf("failed to write reply: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish reply: %w", err)
	}

	addrs := lo.Map(recipients, func(a *mail.Address, _ int) string { return a.Address })
	r.logger.Info("Replying to message", zap.Strings("to", addrs), zap.String("type", string(replyType)))
	return r.sender.Send(ctx, r.from, addrs, buf.Bytes())
}

func (r *Relay) replyRecipients(h mail.Header, replyType core.ReplyType) []*mail.Address {
	sender, _ := h.AddressList("Reply-To")
	if len(sender) == 0 {
		sender, _ = h.AddressList("From")
	}

	switch replyType {
	case core.ReplyAll:
		to, _ := h.AddressList("To")
		cc, _ := h.AddressList("Cc")
		all := append(append(append([]*mail.Address{}, sender...), to...), cc...)
		all = lo.UniqBy(all, func(a *mail.Address) string { return strings.ToLower(a.Address) })
		return lo.Reject(all, func(a *mail.Address, _ int) bool { return strings.EqualFold(a.Address, r.from) })
	case core.ReplyList:
		if list := listPost(h.Get("List-Post")); list != "" {
			return []*mail.Address{{Address: list}}
		}
		return sender
	default:
		return sender
	}
}

func (r *Relay) newHeader(to []*mail.Address, subject string) mail.Header {
	var h mail.Header
	h.SetDate(r.now())
	h.SetAddressList("From", []*mail.Address{{Address: r.from}})
	h.SetAddressList("To", to)
	h.SetSubject(subject)
	if err := h.GenerateMessageID(); err != nil {
		r.logger.Warn("Failed to generate Message-Id", zap.Error(err))
	}
	return h
}

func readHeader(raw []byte) (mail.Header, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return mail.Header{}, fmt.Errorf("failed to parse original message: %w", err)
	}
	return mail.Header{Header: entity.Header}, nil
}

func writePart(create func() (io.WriteCloser, error), body string) error {
	w, err := create()
	if err != nil {
		return fmt.Errorf("failed to create part: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		w.Close()
		return fmt.Errorf("failed to write part: %w", err)
	}
	return w.Close()
}

// listPost extracts the address of a "<mailto:list@example.org>" header
func listPost(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "<")
	v = strings.TrimSuffix(v, ">")
	if !strings.HasPrefix(strings.ToLower(v), "mailto:") {
		return ""
	}
	addr := v[len("mailto:"):]
	if i := strings.IndexByte(addr, '?'); i >= 0 {
		addr = addr[:i]
	}
	return addr
}

func prefixSubject(prefix, subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), strings.ToLower(prefix)) {
		return subject
	}
	return prefix + subject
}
