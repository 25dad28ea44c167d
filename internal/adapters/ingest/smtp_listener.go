// Package ingest turns inbound mail and notifications into queued rule runs.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/core"
	"github.com/mikey/sortana/internal/ports"
)

// SMTPListener accepts mail over SMTP, stores it and queues it for sorting
type SMTPListener struct {
	deliverer  core.Deliverer
	sorter     ports.Sorter
	recorder   ports.IngestRecorder
	logger     *zap.Logger
	listenAddr string
	folder     string
	server     *smtp.Server
}

// NewSMTPListener creates an SMTP ingest source delivering into folder
func NewSMTPListener(
	deliverer core.Deliverer,
	sorter ports.Sorter,
	recorder ports.IngestRecorder,
	logger *zap.Logger,
	listenAddr string,
	folder string,
) *SMTPListener {
	if folder == "" {
		folder = "INBOX"
	}
	return &SMTPListener{
		deliverer:  deliverer,
		sorter:     sorter,
		recorder:   recorder,
		logger:     logger,
		listenAddr: listenAddr,
		folder:     folder,
	}
}

// Name identifies the source
func (l *SMTPListener) Name() string { return "smtp" }

// Start starts the SMTP server
func (l *SMTPListener) Start() error {
	l.server = smtp.NewServer(&smtpBackend{listener: l})

	l.server.Addr = l.listenAddr
	l.server.Domain = "localhost"
	l.server.ReadTimeout = 30 * time.Second
	l.server.WriteTimeout = 30 * time.Second
	l.server.MaxMessageBytes = 30 * 1024 * 1024 // 30MB
	l.server.MaxRecipients = 50

	l.logger.Info("SMTP ingest starting", zap.String("address", l.listenAddr), zap.String("folder", l.folder))

	go func() {
		if err := l.server.ListenAndServe(); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			l.logger.Error("SMTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop stops the SMTP server
func (l *SMTPListener) Stop() error {
	if l.server != nil {
		return l.server.Close()
	}
	return nil
}

// accept stores raw and queues the new message
func (l *SMTPListener) accept(ctx context.Context, sender string, raw []byte) error {
	id, err := l.deliverer.Deliver(ctx, raw, l.folder)
	if l.recorder != nil {
		l.recorder.Ingested(l.Name(), err)
	}
	if err != nil {
		l.logger.Error("Failed to store received message", zap.String("sender", sender), zap.Error(err))
		return fmt.Errorf("451 failed to store message: %w", err)
	}

	l.sorter.ApplyRules(id)
	l.logger.Info("Received message",
		zap.String("message_id", string(id)),
		zap.String("sender", sender),
		zap.Int("size", len(raw)))
	return nil
}

// smtpBackend implements the go-smtp Backend interface
type smtpBackend struct {
	listener *SMTPListener
}

// NewSession creates a new SMTP session
func (b *smtpBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{listener: b.listener}, nil
}

// smtpSession implements the go-smtp Session interface
type smtpSession struct {
	listener   *SMTPListener
	sender     string
	recipients []string
}

// Reset resets the session state
func (s *smtpSession) Reset() {
	s.sender = ""
	s.recipients = nil
}

// Mail sets the sender address
func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

// Rcpt adds a recipient
func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

// Data stores the message and queues it
func (s *smtpSession) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		s.listener.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.listener.accept(ctx, s.sender, raw)
}

// Logout ends the session
func (s *smtpSession) Logout() error {
	return nil
}
