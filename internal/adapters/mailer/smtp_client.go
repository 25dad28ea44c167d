// Package mailer relays forwarded and replied messages through an SMTP server.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/emersion/go-smtp"
	"go.uber.org/zap"
)

// SMTPClient sends messages to a relay using go-smtp
type SMTPClient struct {
	addr   string
	logger *zap.Logger
	dialer net.Dialer
}

// NewSMTPClient creates a client for the relay at host:port
func NewSMTPClient(host string, port int, logger *zap.Logger) *SMTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPClient{
		addr:   net.JoinHostPort(host, strconv.Itoa(port)),
		logger: logger,
		dialer: net.Dialer{Timeout: 10 * time.Second},
	}
}

// Send delivers data to every accepted recipient. It fails only when all
// recipients are rejected.
func (c *SMTPClient) Send(ctx context.Context, from string, to []string, data []byte) error {
	if len(to) == 0 {
		return errors.New("no recipients")
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP relay: %w", err)
	}

	deadline := time.Now().Add(30 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	client := smtp.NewClient(conn)
	defer client.Close()

	if err := client.Hello(hostname); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}
	if err := client.Mail(from, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	accepted := 0
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt, nil); err != nil {
			c.logger.Warn("RCPT TO failed for recipient", zap.String("recipient", rcpt), zap.Error(err))
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return errors.New("all recipients were rejected")
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return fmt.Errorf("failed to send message data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := client.Quit(); err != nil {
		// the message has already been accepted
		c.logger.Warn("QUIT command failed", zap.Error(err))
	}

	c.logger.Debug("Message relayed", zap.Strings("recipients", to), zap.Int("accepted", accepted))
	return nil
}
