package mailstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/core"
	"github.com/mikey/sortana/internal/extract"
)

// IMAPOptions configures an IMAPStore
type IMAPOptions struct {
	Address       string
	Username      string
	Password      string
	TLS           bool
	Account       string
	ArchiveFolder string
	PageSize      int
	Outbox        Outbox
}

// IMAPStore maps the mail store surface onto one IMAP connection.
// Message ids have the form "<folder>:<uid>".
type IMAPStore struct {
	opts   IMAPOptions
	logger *zap.Logger

	mu       sync.Mutex
	client   *imapclient.Client
	selected string
}

// NewIMAPStore creates a store that connects on first use
func NewIMAPStore(logger *zap.Logger, opts IMAPOptions) *IMAPStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ArchiveFolder == "" {
		opts.ArchiveFolder = "Archives"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Account == "" {
		opts.Account = opts.Username
	}
	return &IMAPStore{opts: opts, logger: logger}
}

// MessageID builds the id of uid in folder
func MessageID(folder string, uid imap.UID) core.MessageID {
	return core.MessageID(folder + ":" + strconv.FormatUint(uint64(uid), 10))
}

// ParseMessageID splits an id built by MessageID
func ParseMessageID(id core.MessageID) (string, imap.UID, error) {
	s := string(id)
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed message id %q", id)
	}
	uid, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil || uid == 0 {
		return "", 0, fmt.Errorf("malformed message id %q", id)
	}
	return s[:i], imap.UID(uid), nil
}

// connect must be called with mu held
func (s *IMAPStore) connect() (*imapclient.Client, error) {
	if s.client != nil {
		return s.client, nil
	}

	var (
		c   *imapclient.Client
		err error
	)
	if s.opts.TLS {
		c, err = imapclient.DialTLS(s.opts.Address, nil)
	} else {
		c, err = imapclient.DialStartTLS(s.opts.Address, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP %s: %w", s.opts.Address, err)
	}
	if err := c.Login(s.opts.Username, s.opts.Password).Wait(); err != nil {
		_ = c.Logout().Wait()
		return nil, fmt.Errorf("IMAP login failed for %s: %w", s.opts.Username, err)
	}

	s.logger.Info("Connected to IMAP server", zap.String("address", s.opts.Address))
	s.client = c
	s.selected = ""
	return c, nil
}

// reset drops the connection after a failure; mu must be held
func (s *IMAPStore) reset() {
	if s.client != nil {
		_ = s.client.Close()
	}
	s.client = nil
	s.selected = ""
}

// inFolder runs fn with folder selected
func (s *IMAPStore) inFolder(ctx context.Context, folder string, fn func(c *imapclient.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.connect()
	if err != nil {
		return err
	}
	if s.selected != folder {
		if _, err := c.Select(folder, nil).Wait(); err != nil {
			s.selected = ""
			return fmt.Errorf("%s: %w: %v", folder, ErrUnknownFolder, err)
		}
		s.selected = folder
	}

	if err := fn(c); err != nil {
		if ctx.Err() == nil && isConnError(err) {
			s.reset()
		}
		return err
	}
	return nil
}

func (s *IMAPStore) onMessage(ctx context.Context, id core.MessageID, fn func(c *imapclient.Client, set imap.UIDSet) error) error {
	folder, uid, err := ParseMessageID(id)
	if err != nil {
		return err
	}
	return s.inFolder(ctx, folder, func(c *imapclient.Client) error {
		return fn(c, imap.UIDSetNum(uid))
	})
}

func (s *IMAPStore) fetchOne(ctx context.Context, id core.MessageID, opts *imap.FetchOptions) (*imapclient.FetchMessageBuffer, error) {
	var buf *imapclient.FetchMessageBuffer
	err := s.onMessage(ctx, id, func(c *imapclient.Client, set imap.UIDSet) error {
		msgs, err := c.Fetch(set, opts).Collect()
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", id, err)
		}
		if len(msgs) == 0 {
			return fmt.Errorf("message %s: %w", id, core.ErrNotFound)
		}
		buf = msgs[0]
		return nil
	})
	return buf, err
}

func (s *IMAPStore) raw(ctx context.Context, id core.MessageID) ([]byte, error) {
	section := &imap.FetchItemBodySection{Peek: true}
	buf, err := s.fetchOne(ctx, id, &imap.FetchOptions{UID: true, BodySection: []*imap.FetchItemBodySection{section}})
	if err != nil {
		return nil, err
	}
	raw := buf.FindBodySection(section)
	if raw == nil {
		return nil, fmt.Errorf("message %s has no body", id)
	}
	return raw, nil
}

// GetFull fetches and parses the whole message without marking it read
func (s *IMAPStore) GetFull(ctx context.Context, id core.MessageID) (*core.Message, error) {
	raw, err := s.raw(ctx, id)
	if err != nil {
		return nil, err
	}
	return extract.ParseMessage(id, bytes.NewReader(raw))
}

// GetHeader fetches the envelope and flags of id
func (s *IMAPStore) GetHeader(ctx context.Context, id core.MessageID) (*core.MessageHeader, error) {
	folder, _, err := ParseMessageID(id)
	if err != nil {
		return nil, err
	}
	buf, err := s.fetchOne(ctx, id, &imap.FetchOptions{UID: true, Envelope: true, Flags: true})
	if err != nil {
		return nil, err
	}

	h := &core.MessageHeader{
		ID:      id,
		Account: s.opts.Account,
		Folder:  folder,
		Tags:    keywords(buf.Flags),
		Read:    lo.Contains(buf.Flags, imap.FlagSeen),
		Flagged: lo.Contains(buf.Flags, imap.FlagFlagged),
		Junk:    lo.Contains(buf.Flags, imap.Flag(junkKeyword)),
	}
	if env := buf.Envelope; env != nil {
		h.Subject = env.Subject
		h.Date = env.Date
		if len(env.From) > 0 {
			h.Author = env.From[0].Addr()
			if env.From[0].Name != "" {
				h.Author = fmt.Sprintf("%s <%s>", env.From[0].Name, env.From[0].Addr())
			}
		}
	}
	return h, nil
}

// Update maps tags to IMAP keywords and state to system flags
func (s *IMAPStore) Update(ctx context.Context, id core.MessageID, u core.MessageUpdate) error {
	var current []imap.Flag
	if u.Tags != nil {
		buf, err := s.fetchOne(ctx, id, &imap.FetchOptions{UID: true, Flags: true})
		if err != nil {
			return err
		}
		current = buf.Flags
	}

	var add, del []imap.Flag
	if u.Tags != nil {
		have := keywords(current)
		want := lo.Uniq(u.Tags)
		add = append(add, toFlags(lo.Without(want, have...))...)
		del = append(del, toFlags(lo.Without(have, want...))...)
	}
	toggle := func(v *bool, on, off imap.Flag) {
		if v == nil {
			return
		}
		if *v {
			add = append(add, on)
			if off != "" {
				del = append(del, off)
			}
			return
		}
		del = append(del, on)
		if off != "" {
			add = append(add, off)
		}
	}
	toggle(u.Read, imap.FlagSeen, "")
	toggle(u.Flagged, imap.FlagFlagged, "")
	toggle(u.Junk, imap.Flag(junkKeyword), imap.Flag(notJunkKeyword))

	return s.onMessage(ctx, id, func(c *imapclient.Client, set imap.UIDSet) error {
		for _, op := range []struct {
			kind  imap.StoreFlagsOp
			flags []imap.Flag
		}{{imap.StoreFlagsAdd, add}, {imap.StoreFlagsDel, del}} {
			if len(op.flags) == 0 {
				continue
			}
			err := c.Store(set, &imap.StoreFlags{Op: op.kind, Silent: true, Flags: op.flags}, nil).Close()
			if err != nil {
				return fmt.Errorf("failed to store flags on %s: %w", id, err)
			}
		}
		return nil
	})
}

// Move moves id to folder
func (s *IMAPStore) Move(ctx context.Context, id core.MessageID, folder string) error {
	return s.onMessage(ctx, id, func(c *imapclient.Client, set imap.UIDSet) error {
		if _, err := c.Move(set, folder).Wait(); err != nil {
			return fmt.Errorf("failed to move %s to %s: %w", id, folder, err)
		}
		return nil
	})
}

// Copy copies id to folder
func (s *IMAPStore) Copy(ctx context.Context, id core.MessageID, folder string) error {
	return s.onMessage(ctx, id, func(c *imapclient.Client, set imap.UIDSet) error {
		if _, err := c.Copy(set, folder).Wait(); err != nil {
			return fmt.Errorf("failed to copy %s to %s: %w", id, folder, err)
		}
		return nil
	})
}

// Delete flags id as deleted and expunges it
func (s *IMAPStore) Delete(ctx context.Context, id core.MessageID) error {
	return s.onMessage(ctx, id, func(c *imapclient.Client, set imap.UIDSet) error {
		err := c.Store(set, &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagDeleted}}, nil).Close()
		if err != nil {
			return fmt.Errorf("failed to flag %s deleted: %w", id, err)
		}
		if c.Caps().Has(imap.CapUIDPlus) {
			err = c.UIDExpunge(set).Close()
		} else {
			err = c.Expunge().Close()
		}
		if err != nil {
			return fmt.Errorf("failed to expunge %s: %w", id, err)
		}
		return nil
	})
}

// Archive moves id to the archive folder
func (s *IMAPStore) Archive(ctx context.Context, id core.MessageID) error {
	return s.Move(ctx, id, s.opts.ArchiveFolder)
}

// Forward relays id to address through the outbox
func (s *IMAPStore) Forward(ctx context.Context, id core.MessageID, address string) error {
	if s.opts.Outbox == nil {
		return ErrNoOutbox
	}
	raw, err := s.raw(ctx, id)
	if err != nil {
		return err
	}
	return s.opts.Outbox.Forward(ctx, raw, address)
}

// Reply answers id through the outbox
func (s *IMAPStore) Reply(ctx context.Context, id core.MessageID, replyType core.ReplyType) error {
	if s.opts.Outbox == nil {
		return ErrNoOutbox
	}
	raw, err := s.raw(ctx, id)
	if err != nil {
		return err
	}
	return s.opts.Outbox.Reply(ctx, raw, replyType)
}

// List pages through folder in UID order. The cursor is the last UID returned.
func (s *IMAPStore) List(ctx context.Context, folder string, cursor string) (*core.MessagePage, error) {
	var after uint64
	if cursor != "" {
		n, err := strconv.ParseUint(cursor, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		after = n
	}

	page := &core.MessagePage{IDs: []core.MessageID{}}
	err := s.inFolder(ctx, folder, func(c *imapclient.Client) error {
		data, err := c.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
		if err != nil {
			return fmt.Errorf("failed to search %s: %w", folder, err)
		}
		uids := lo.Filter(data.AllUIDs(), func(u imap.UID, _ int) bool { return uint64(u) > after })
		sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

		if len(uids) > s.opts.PageSize {
			uids = uids[:s.opts.PageSize]
			page.Next = strconv.FormatUint(uint64(uids[len(uids)-1]), 10)
		}
		for _, uid := range uids {
			page.IDs = append(page.IDs, MessageID(folder, uid))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Deliver appends raw to folder
func (s *IMAPStore) Deliver(ctx context.Context, raw []byte, folder string) (core.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.connect()
	if err != nil {
		return "", err
	}

	cmd := c.Append(folder, int64(len(raw)), nil)
	if _, err := cmd.Write(raw); err != nil {
		cmd.Close()
		return "", fmt.Errorf("failed to append to %s: %w", folder, err)
	}
	if err := cmd.Close(); err != nil {
		return "", fmt.Errorf("failed to append to %s: %w", folder, err)
	}
	data, err := cmd.Wait()
	if err != nil {
		return "", fmt.Errorf("failed to append to %s: %w", folder, err)
	}
	if data.UID == 0 {
		return "", fmt.Errorf("server did not report the appended UID in %s", folder)
	}
	return MessageID(folder, data.UID), nil
}

// Close logs out of the server
func (s *IMAPStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Logout().Wait()
	s.client = nil
	s.selected = ""
	return err
}

// keywords returns the non-system flags used as tags
func keywords(flags []imap.Flag) []string {
	var tags []string
	for _, f := range flags {
		if strings.HasPrefix(string(f), "\\") || f == junkKeyword || f == notJunkKeyword {
			continue
		}
		tags = append(tags, string(f))
	}
	return tags
}

func toFlags(tags []string) []imap.Flag {
	return lo.Map(tags, func(t string, _ int) imap.Flag { return imap.Flag(t) })
}

// isConnError reports failures that leave the connection unusable
func isConnError(err error) bool {
	var imapErr *imap.Error
	return !errors.As(err, &imapErr) && !errors.Is(err, core.ErrNotFound)
}
