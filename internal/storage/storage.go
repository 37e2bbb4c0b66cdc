// Package storage persists conversations in a single JSON file.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for ids with no stored conversation.
	ErrNotFound = errors.New("conversation not found")
	// ErrInvalidID is returned for ids outside [A-Za-z0-9-]{1,64}.
	ErrInvalidID = errors.New("invalid conversation id")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// Message is one stored chat message.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is a titled message thread.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary describes a conversation without its messages.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type document struct {
	Conversations map[string]*Conversation `json:"conversations"`
}

// Store reads and writes the conversation file. Writers replace the file
// atomically; all access from this process is serialised by mu.
type Store struct {
	path  string
	mu    sync.RWMutex
	now   func() time.Time
	newID func() string
}

// Open prepares the store at path, creating the file if it does not exist.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("storage path must not be empty")
	}
	s := &Store{
		path:  path,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.write(&document{Conversations: map[string]*Conversation{}}); err != nil {
			return nil, err
		}
		return s, nil
	} else if err != nil {
		return nil, fmt.Errorf("stat storage file: %w", err)
	}

	if _, err := s.read(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// List returns summaries, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(doc.Conversations))
	for _, c := range doc.Conversations {
		out = append(out, Summary{
			ID:           c.ID,
			Title:        c.Title,
			MessageCount: len(c.Messages),
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
		})
	}
	slices.SortFunc(out, func(a, b Summary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Get returns the conversation with id.
func (s *Store) Get(ctx context.Context, id string) (*Conversation, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	c, ok := doc.Conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// Exists reports whether a conversation with id is stored.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.Get(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Save inserts or replaces conv and returns the stored value. An empty id
// is assigned; creation time is kept from any existing record.
func (s *Store) Save(ctx context.Context, conv Conversation) (*Conversation, error) {
	if conv.ID == "" {
		conv.ID = s.newID()
	}
	if err := validateID(conv.ID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}

	now := s.now()
	if existing, ok := doc.Conversations[conv.ID]; ok {
		conv.CreatedAt = existing.CreatedAt
	} else if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	conv.Messages = slices.Clone(conv.Messages)
	if conv.Messages == nil {
		conv.Messages = []Message{}
	}
	for i := range conv.Messages {
		if conv.Messages[i].ID == "" {
			conv.Messages[i].ID = s.newID()
		}
		if conv.Messages[i].Timestamp.IsZero() {
			conv.Messages[i].Timestamp = now
		}
	}

	doc.Conversations[conv.ID] = &conv
	if err := s.write(doc); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Delete removes the conversation with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := doc.Conversations[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(doc.Conversations, id)
	return s.write(doc)
}

func (s *Store) read() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read storage file: %w", err)
	}
	var doc document
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse storage file %s: %w", s.path, err)
		}
	}
	if doc.Conversations == nil {
		doc.Conversations = map[string]*Conversation{}
	}
	return &doc, nil
}

func (s *Store) write(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversations: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace storage file: %w", err)
	}
	return nil
}

func validateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
