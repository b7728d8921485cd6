// Package memory keeps per-dataset analysis memory: saved conclusions, named
// summaries and a bounded history of question turns.
//
// A dataset is identified by the first 16 hex characters of the SHA-256 of
// its bytes, so the same file always maps to the same memory. Every dataset
// is stored as one JSON record; backends only differ in where the record
// lives and how concurrent updates are serialized.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Defaults for a Store
const (
	DefaultMaxTurns       = 50
	DefaultCodePreviewLen = 2000
)

var (
	// ErrStoreClosed is returned by every operation after Close
	ErrStoreClosed = errors.New("memory store is closed")
	// ErrInvalidDatasetID is returned for ids that are not 16 lowercase hex characters
	ErrInvalidDatasetID = errors.New("invalid dataset id")
)

var datasetIDPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

// DatasetID derives the id of a dataset from its raw bytes
func DatasetID(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:16]
}

// ValidDatasetID reports whether id has the DatasetID shape
func ValidDatasetID(id string) bool {
	return datasetIDPattern.MatchString(id)
}

// Turn is one answered question
type Turn struct {
	Timestamp   int64  `json:"ts"`
	Question    string `json:"question"`
	ResultText  string `json:"result_text"`
	CodePreview string `json:"code_preview"`
}

// Time returns the turn timestamp
func (t Turn) Time() time.Time {
	return time.Unix(t.Timestamp, 0)
}

// Record is the stored memory of one dataset
type Record struct {
	Conclusions []string          `json:"conclusions"`
	Summaries   map[string]string `json:"summaries"`
	ChatHistory []Turn            `json:"chat_history"`
}

// decodeRecord parses a stored record; empty input is an empty record
func decodeRecord(data []byte) (*Record, error) {
	r := &Record{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, r); err != nil {
			return nil, fmt.Errorf("failed to decode memory record: %w", err)
		}
	}
	if r.Conclusions == nil {
		r.Conclusions = []string{}
	}
	if r.Summaries == nil {
		r.Summaries = map[string]string{}
	}
	if r.ChatHistory == nil {
		r.ChatHistory = []Turn{}
	}
	return r, nil
}

func encodeRecord(r *Record) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode memory record: %w", err)
	}
	return data, nil
}

// Backend persists records.
//
// Update runs fn on the current record and stores the result atomically
// with respect to other updates of the same dataset. fn may run more than
// once when a backend retries after a conflicting write.
type Backend interface {
	Load(ctx context.Context, id string) (*Record, error)
	Update(ctx context.Context, id string, fn func(*Record) error) error
	Close() error
}

// Store applies the memory rules on top of a Backend
type Store struct {
	backend        Backend
	logger         *zap.Logger
	maxTurns       int
	codePreviewLen int
	now            func() time.Time
	closed         atomic.Bool
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithMaxTurns bounds the kept history
func WithMaxTurns(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxTurns = n
		}
	}
}

// WithCodePreviewLen bounds the stored code preview, in characters
func WithCodePreviewLen(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.codePreviewLen = n
		}
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store over backend
func NewStore(logger *zap.Logger, backend Backend, opts ...StoreOption) *Store {
	s := &Store{
		backend:        backend,
		logger:         logger,
		maxTurns:       DefaultMaxTurns,
		codePreviewLen: DefaultCodePreviewLen,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) check(id string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if !ValidDatasetID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidDatasetID, id)
	}
	return nil
}

func (s *Store) load(ctx context.Context, id string) (*Record, error) {
	if err := s.check(id); err != nil {
		return nil, err
	}
	r, err := s.backend.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load memory for %s: %w", id, err)
	}
	return r, nil
}

func (s *Store) update(ctx context.Context, id string, fn func(*Record) error) error {
	if err := s.check(id); err != nil {
		return err
	}
	if err := s.backend.Update(ctx, id, fn); err != nil {
		return fmt.Errorf("failed to update memory for %s: %w", id, err)
	}
	return nil
}

// AppendConclusion saves a trimmed conclusion. Blank text is ignored.
func (s *Store) AppendConclusion(ctx context.Context, id, text string) error {
	return s.AppendConclusions(ctx, id, []string{text})
}

// AppendConclusions saves several conclusions in one update
func (s *Store) AppendConclusions(ctx context.Context, id string, texts []string) error {
	var kept []string
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return s.check(id)
	}
	err := s.update(ctx, id, func(r *Record) error {
		r.Conclusions = append(r.Conclusions, kept...)
		return nil
	})
	if err == nil {
		s.logger.Debug("Conclusions saved", zap.String("dataset_id", id), zap.Int("count", len(kept)))
	}
	return err
}

// Conclusions returns every saved conclusion, oldest first
func (s *Store) Conclusions(ctx context.Context, id string) ([]string, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.Conclusions, nil
}

// ClearConclusions removes every saved conclusion
func (s *Store) ClearConclusions(ctx context.Context, id string) error {
	return s.update(ctx, id, func(r *Record) error {
		r.Conclusions = []string{}
		return nil
	})
}

// AppendTurn records an answered question. Fields are trimmed, the code
// preview is truncated and only the most recent turns are kept.
func (s *Store) AppendTurn(ctx context.Context, id, question, resultText, code string) error {
	turn := Turn{
		Timestamp:   s.now().Unix(),
		Question:    strings.TrimSpace(question),
		ResultText:  strings.TrimSpace(resultText),
		CodePreview: truncate(strings.TrimSpace(code), s.codePreviewLen),
	}
	return s.update(ctx, id, func(r *Record) error {
		r.ChatHistory = append(r.ChatHistory, turn)
		if n := len(r.ChatHistory); n > s.maxTurns {
			r.ChatHistory = append([]Turn(nil), r.ChatHistory[n-s.maxTurns:]...)
		}
		return nil
	})
}

// RecentTurns returns up to k most recent turns, oldest first
func (s *Store) RecentTurns(ctx context.Context, id string, k int) ([]Turn, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Turn{}, nil
	}
	if n := len(r.ChatHistory); n > k {
		return r.ChatHistory[n-k:], nil
	}
	return r.ChatHistory, nil
}

// SetSummary stores a named summary, replacing any previous one
func (s *Store) SetSummary(ctx context.Context, id, name, text string) error {
	return s.update(ctx, id, func(r *Record) error {
		r.Summaries[name] = strings.TrimSpace(text)
		return nil
	})
}

// Summaries returns the named summaries
func (s *Store) Summaries(ctx context.Context, id string) (map[string]string, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.Summaries, nil
}

// Close releases the backend. Later calls fail with ErrStoreClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.backend.Close()
}

// truncate keeps the first n characters of s
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
