package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/adapters/mailer"
	"github.com/mikey/sortana/internal/adapters/mailstore"
	"github.com/mikey/sortana/internal/config"
	"github.com/mikey/sortana/internal/ports"
)

// MailStoreFactory creates the mail store the rules act upon
type MailStoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewMailStoreFactory creates a new mail store factory
func NewMailStoreFactory(cfg *config.Config, logger *zap.Logger) *MailStoreFactory {
	return &MailStoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateOutbox creates the SMTP relay used by forward and reply actions
func (f *MailStoreFactory) CreateOutbox() mailstore.Outbox {
	smtpCfg := f.cfg.GetSMTP()
	logger := f.logger.Named("mailer")
	return mailer.NewRelay(mailer.NewSMTPClient(smtpCfg.Address, smtpCfg.Port, logger), smtpCfg.From, logger)
}

// CreateMailStore creates the store named by mail.store
func (f *MailStoreFactory) CreateMailStore() (ports.MailBackend, error) {
	mailCfg := f.cfg.GetMail()
	logger := f.logger.Named("mailstore")

	switch mailCfg.Store {
	case "memory":
		return mailstore.NewMemoryStore(logger, mailstore.MemoryOptions{
			Account:       mailCfg.Account,
			ArchiveFolder: mailCfg.ArchiveFolder,
			PageSize:      mailCfg.PageSize,
			Outbox:        f.CreateOutbox(),
		}), nil
	case "imap":
		imapCfg := f.cfg.GetIMAP()
		if imapCfg.Username == "" {
			return nil, fmt.Errorf("imap username is required")
		}
		return mailstore.NewIMAPStore(logger, mailstore.IMAPOptions{
			Address:       imapCfg.Address,
			Username:      imapCfg.Username,
			Password:      imapCfg.Password,
			TLS:           imapCfg.TLS,
			Account:       mailCfg.Account,
			ArchiveFolder: mailCfg.ArchiveFolder,
			PageSize:      mailCfg.PageSize,
			Outbox:        f.CreateOutbox(),
		}), nil
	default:
		return nil, fmt.Errorf("unsupported mail store: %s", mailCfg.Store)
	}
}
