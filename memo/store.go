package memo

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"echomemo/kv"
)

var (
	ErrNotFound = errors.New("memo not found")

	// ErrPersistenceUnavailable marks mutations that were applied in memory
	// but could not be written through.
	ErrPersistenceUnavailable = kv.ErrPersistenceUnavailable
)

// Store holds the memo collection, newest first, and rewrites the whole
// collection to the key-value store after every mutation.
type Store struct {
	mu    sync.Mutex
	kv    kv.Store
	memos []Memo

	now   func() time.Time
	newID func() string
}

type Option func(*Store)

// WithClock overrides the time source used for createdAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDs overrides memo id generation.
func WithIDs(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

func New(store kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:    store,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory collection with the persisted one. Absent
// data yields an empty collection. On read failure or corrupt data the
// collection is empty and the error is returned for reporting only.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memos = nil

	data, ok, err := s.kv.Get(DataKey)
	if err != nil {
		return fmt.Errorf("load memos: %w", err)
	}
	if !ok {
		return nil
	}
	memos, err := Decode(data)
	if err != nil {
		return fmt.Errorf("load memos: %w", err)
	}
	s.memos = memos
	return nil
}

// persist must be called with mu held.
func (s *Store) persist() error {
	data, err := Encode(s.memos)
	if err != nil {
		return fmt.Errorf("encode memos: %w", err)
	}
	if err := s.kv.Set(DataKey, data); err != nil {
		return fmt.Errorf("persist memos: %w", err)
	}
	return nil
}

func (s *Store) index(id string) int {
	return slices.IndexFunc(s.memos, func(m Memo) bool { return m.ID == id })
}

func (s *Store) millis() int64 {
	return s.now().UnixMilli()
}

// List returns a copy of the collection in display order.
func (s *Store) List() []Memo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Memo, len(s.memos))
	for i, m := range s.memos {
		out[i] = m.clone()
	}
	return out
}

// Search filters List by Memo.Matches.
func (s *Store) Search(query string) []Memo {
	var out []Memo
	for _, m := range s.List() {
		if m.Matches(query) {
			out = append(out, m)
		}
	}
	return out
}

func (s *Store) Get(id string) (Memo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return Memo{}, false
	}
	return s.memos[i].clone(), true
}

// Tags lists every distinct tag across the collection in first-seen order.
func (s *Store) Tags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tags []string
	for _, m := range s.memos {
		tags = MergeTags(tags, m.Tags)
	}
	return tags
}

// Commit applies a confirmed draft. With a target id the entry is prepended
// to that memo and the draft's tags are merged in; if the target no longer
// exists the draft is dropped and committed is false. Without a target a new
// memo is created at the front of the collection.
func (s *Store) Commit(d Draft) (m Memo, committed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := d.Entry()
	if entry.CreatedAt == 0 {
		entry.CreatedAt = s.millis()
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	if d.TargetMemoID != "" {
		i := s.index(d.TargetMemoID)
		if i < 0 {
			return Memo{}, false, nil
		}
		target := s.memos[i].clone()
		target.AudioEntries = append([]AudioEntry{entry}, target.AudioEntries...)
		target.Tags = MergeTags(target.Tags, d.Tags)
		s.memos[i] = target
		return target.clone(), true, s.persist()
	}

	created := Memo{
		ID:           s.newID(),
		Title:        d.Title,
		Content:      "",
		AudioEntries: []AudioEntry{entry},
		CreatedAt:    s.millis(),
		Tags:         MergeTags(nil, d.Tags),
	}
	s.memos = append([]Memo{created}, s.memos...)
	return created.clone(), true, s.persist()
}

// CreateQuickNote adds an empty text memo at the front of the collection.
func (s *Store) CreateQuickNote() (Memo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := Memo{
		ID:        s.newID(),
		Title:     QuickNoteTitle,
		CreatedAt: s.millis(),
		Tags:      []string{QuickNoteTag},
	}.clone()
	s.memos = append([]Memo{created}, s.memos...)
	return created.clone(), s.persist()
}

// Edit replaces title and/or content. Nil fields are left untouched.
type Edit struct {
	Title   *string
	Content *string
}

func (s *Store) Update(id string, e Edit) (Memo, error) {
	return s.mutate(id, func(m *Memo) {
		if e.Title != nil {
			m.Title = *e.Title
		}
		if e.Content != nil {
			m.Content = *e.Content
		}
	})
}

// ApplyRefine replaces title and content only with non-empty values and
// always merges tags. Audio entries are never touched.
func (s *Store) ApplyRefine(id string, r Refinement) (Memo, error) {
	return s.mutate(id, func(m *Memo) {
		if r.Title != "" {
			m.Title = r.Title
		}
		if r.Content != "" {
			m.Content = r.Content
		}
		m.Tags = MergeTags(m.Tags, r.Tags)
	})
}

func (s *Store) ToggleFavorite(id string) (Memo, error) {
	return s.mutate(id, func(m *Memo) { m.IsFavorite = !m.IsFavorite })
}

func (s *Store) mutate(id string, fn func(*Memo)) (Memo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return Memo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m := s.memos[i].clone()
	fn(&m)
	s.memos[i] = m
	return m.clone(), s.persist()
}

// Delete removes a memo and all of its entries, returning what was removed.
func (s *Store) Delete(id string) (Memo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return Memo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	removed := s.memos[i]
	s.memos = slices.Delete(slices.Clone(s.memos), i, i+1)
	return removed.clone(), s.persist()
}

// DeleteEntry removes one entry from a memo, leaving siblings and the memo's
// other fields untouched.
func (s *Store) DeleteEntry(memoID, entryID string) (AudioEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(memoID)
	if i < 0 {
		return AudioEntry{}, fmt.Errorf("%w: %s", ErrNotFound, memoID)
	}
	m := s.memos[i].clone()
	j := slices.IndexFunc(m.AudioEntries, func(e AudioEntry) bool { return e.ID == entryID })
	if j < 0 {
		return AudioEntry{}, fmt.Errorf("%w: entry %s in %s", ErrNotFound, entryID, memoID)
	}
	removed := m.AudioEntries[j]
	m.AudioEntries = slices.Delete(m.AudioEntries, j, j+1)
	s.memos[i] = m
	return removed, s.persist()
}
