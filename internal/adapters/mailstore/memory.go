package mailstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/emersion/go-message/mail"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/core"
	"github.com/mikey/sortana/internal/extract"
)

// MemoryOptions configures a MemoryStore
type MemoryOptions struct {
	Account       string
	ArchiveFolder string
	PageSize      int
	Folders       []string
	Outbox        Outbox
}

type memMessage struct {
	header core.MessageHeader
	raw    []byte
	seq    int
}

// MemoryStore keeps messages in process. Ids are assigned sequentially.
type MemoryStore struct {
	logger  *zap.Logger
	account string
	archive string
	page    int
	outbox  Outbox

	mu       sync.RWMutex
	nextID   int
	folders  map[string]struct{}
	messages map[core.MessageID]*memMessage
}

// NewMemoryStore creates an empty store holding INBOX, the archive folder and opts.Folders
func NewMemoryStore(logger *zap.Logger, opts MemoryOptions) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Account == "" {
		opts.Account = "local"
	}
	if opts.ArchiveFolder == "" {
		opts.ArchiveFolder = "Archives"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}

	s := &MemoryStore{
		logger:   logger,
		account:  opts.Account,
		archive:  opts.ArchiveFolder,
		page:     opts.PageSize,
		outbox:   opts.Outbox,
		folders:  make(map[string]struct{}),
		messages: make(map[core.MessageID]*memMessage),
	}
	for _, f := range append([]string{"INBOX", opts.ArchiveFolder}, opts.Folders...) {
		s.folders[f] = struct{}{}
	}
	return s
}

// CreateFolder adds folder if it does not exist
func (s *MemoryStore) CreateFolder(folder string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[folder] = struct{}{}
}

// Deliver stores a raw RFC 822 message in folder, creating the folder if needed
func (s *MemoryStore) Deliver(ctx context.Context, raw []byte, folder string) (core.MessageID, error) {
	header, err := parseHeader(raw)
	if err != nil {
		return "", err
	}
	header.Account = s.account
	header.Folder = folder

	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[folder] = struct{}{}
	id := s.insert(header, append([]byte(nil), raw...))

	s.logger.Debug("Message delivered", zap.String("message_id", string(id)), zap.String("folder", folder))
	return id, nil
}

// insert must be called with mu held
func (s *MemoryStore) insert(header core.MessageHeader, raw []byte) core.MessageID {
	s.nextID++
	id := core.MessageID(strconv.Itoa(s.nextID))
	header.ID = id
	s.messages[id] = &memMessage{header: header, raw: raw, seq: s.nextID}
	return id
}

// GetFull parses the stored message
func (s *MemoryStore) GetFull(ctx context.Context, id core.MessageID) (*core.Message, error) {
	s.mu.RLock()
	m, ok := s.messages[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	return extract.ParseMessage(id, bytes.NewReader(m.raw))
}

// GetHeader returns a copy of the message metadata
func (s *MemoryStore) GetHeader(ctx context.Context, id core.MessageID) (*core.MessageHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	h := m.header
	h.Tags = append([]string(nil), m.header.Tags...)
	return &h, nil
}

// Update applies the non-nil fields of u
func (s *MemoryStore) Update(ctx context.Context, id core.MessageID, u core.MessageUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	if u.Tags != nil {
		m.header.Tags = lo.Uniq(u.Tags)
	}
	if u.Read != nil {
		m.header.Read = *u.Read
	}
	if u.Junk != nil {
		m.header.Junk = *u.Junk
	}
	if u.Flagged != nil {
		m.header.Flagged = *u.Flagged
	}
	return nil
}

// Move changes the folder of id
func (s *MemoryStore) Move(ctx context.Context, id core.MessageID, folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	if _, ok := s.folders[folder]; !ok {
		return fmt.Errorf("%s: %w", folder, ErrUnknownFolder)
	}
	m.header.Folder = folder
	return nil
}

// Copy stores a duplicate of id in folder under a new id
func (s *MemoryStore) Copy(ctx context.Context, id core.MessageID, folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	if _, ok := s.folders[folder]; !ok {
		return fmt.Errorf("%s: %w", folder, ErrUnknownFolder)
	}
	h := m.header
	h.Folder = folder
	h.Tags = append([]string(nil), m.header.Tags...)
	s.insert(h, m.raw)
	return nil
}

// Delete removes id
func (s *MemoryStore) Delete(ctx context.Context, id core.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	delete(s.messages, id)
	return nil
}

// Archive moves id to the archive folder
func (s *MemoryStore) Archive(ctx context.Context, id core.MessageID) error {
	return s.Move(ctx, id, s.archive)
}

// Forward relays id to address through the outbox
func (s *MemoryStore) Forward(ctx context.Context, id core.MessageID, address string) error {
	raw, err := s.raw(id)
	if err != nil {
		return err
	}
	if s.outbox == nil {
		return ErrNoOutbox
	}
	return s.outbox.Forward(ctx, raw, address)
}

// Reply answers id through the outbox
func (s *MemoryStore) Reply(ctx context.Context, id core.MessageID, replyType core.ReplyType) error {
	raw, err := s.raw(id)
	if err != nil {
		return err
	}
	if s.outbox == nil {
		return ErrNoOutbox
	}
	return s.outbox.Reply(ctx, raw, replyType)
}

// List pages through folder in delivery order. The cursor is an offset.
func (s *MemoryStore) List(ctx context.Context, folder string, cursor string) (*core.MessagePage, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		offset = n
	}

	s.mu.RLock()
	if _, ok := s.folders[folder]; !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%s: %w", folder, ErrUnknownFolder)
	}
	inFolder := lo.Filter(lo.Values(s.messages), func(m *memMessage, _ int) bool { return m.header.Folder == folder })
	s.mu.RUnlock()

	sort.Slice(inFolder, func(i, j int) bool { return inFolder[i].seq < inFolder[j].seq })

	page := &core.MessagePage{IDs: []core.MessageID{}}
	if offset >= len(inFolder) {
		return page, nil
	}
	end := min(offset+s.page, len(inFolder))
	for _, m := range inFolder[offset:end] {
		page.IDs = append(page.IDs, m.header.ID)
	}
	if end < len(inFolder) {
		page.Next = strconv.Itoa(end)
	}
	return page, nil
}

func (s *MemoryStore) raw(id core.MessageID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	return m.raw, nil
}

// parseHeader reads the metadata the rule engine filters on
func parseHeader(raw []byte) (core.MessageHeader, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && mr == nil {
		return core.MessageHeader{}, fmt.Errorf("failed to parse message: %w", err)
	}
	defer mr.Close()

	var h core.MessageHeader
	h.Subject, _ = mr.Header.Subject()
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		h.Author = from[0].String()
	}
	if date, err := mr.Header.Date(); err == nil {
		h.Date = date
	}
	return h, nil
}
