// Package memstore is an in-memory gateway.Gateway used by tests and the
// scenario harness.
//
// It enforces the same referential rules as the SQL stores (a node's parent
// must exist, nothing may be deleted while children still reference it) but
// allows duplicate natural keys, which concurrent authoring runs leave
// behind.
//
// Failures can be injected per operation with Store.Fail, and the whole
// store can be taken offline with SetUnavailable.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/gateway"
	"github.com/roach88/syllabus/internal/testutil"
)

// Op describes one mutating call, for failure injection.
type Op struct {
	Kind  string // "create", "update", "update_order", "delete"
	Level course.Level
	ID    string // target ID; empty for create
	Name  string // node name or lesson slug
}

// IDGenerator mints IDs for created records.
type IDGenerator interface {
	Next(prefix string) string
}

// Store is an in-memory gateway. The zero value is not usable; call New.
type Store struct {
	mu      sync.Mutex
	courses map[string]course.Course
	nodes   map[course.Level]map[string]course.Node
	lessons map[string]course.Lesson

	now  func() time.Time
	ids  IDGenerator
	down bool

	// Fail, when set, is consulted before every mutation. A non-nil result
	// is returned to the caller and the mutation is not applied.
	Fail func(Op) error
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDs overrides the ID generator.
func WithIDs(ids IDGenerator) Option {
	return func(s *Store) { s.ids = ids }
}

// New creates an empty store with a deterministic clock and sequential IDs.
func New(opts ...Option) *Store {
	s := &Store{
		courses: make(map[string]course.Course),
		nodes: map[course.Level]map[string]course.Node{
			course.LevelUnit:    {},
			course.LevelChapter: {},
			course.LevelTopic:   {},
		},
		lessons: make(map[string]course.Lesson),
		now:     testutil.NewDeterministicClock().Now,
		ids:     testutil.NewSequentialIDs(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetUnavailable simulates losing the connection to the store.
func (s *Store) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *Store) Courses() gateway.CourseRepo { return courseRepo{s} }
func (s *Store) Units() gateway.NodeRepo     { return nodeRepo{s, course.LevelUnit} }
func (s *Store) Chapters() gateway.NodeRepo  { return nodeRepo{s, course.LevelChapter} }
func (s *Store) Topics() gateway.NodeRepo    { return nodeRepo{s, course.LevelTopic} }
func (s *Store) Lessons() gateway.LessonRepo { return lessonRepo{s} }

// Ping fails only while the store is marked unavailable.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check(ctx)
}

// check must be called with s.mu held.
func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.down {
		return gateway.Unavailable(fmt.Errorf("memstore offline"))
	}
	return nil
}

// inject must be called with s.mu held.
func (s *Store) inject(op Op) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(op)
}

// --- seeding and inspection helpers (bypass failure injection) ---

// AddCourse stores c as-is.
func (s *Store) AddCourse(c course.Course) course.Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.courses[c.ID] = c
	return c
}

// AddNode stores n as-is, filling ID and CreatedAt when empty.
// No natural-key check is made, so duplicates can be seeded.
func (s *Store) AddNode(n course.Node) course.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = s.ids.Next(n.Level.String())
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	s.nodes[n.Level][n.ID] = n
	return n
}

// AddLesson stores l as-is, filling ID and CreatedAt when empty.
func (s *Store) AddLesson(l course.Lesson) course.Lesson {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = s.ids.Next("lesson")
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	s.lessons[l.ID] = l
	return l
}

// AllNodes returns every node at level in list order.
func (s *Store) AllNodes(level course.Level) []course.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterNodes(level, func(course.Node) bool { return true })
}

// AllLessons returns every lesson in list order.
func (s *Store) AllLessons() []course.Lesson {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterLessons(func(course.Lesson) bool { return true })
}

// filterNodes must be called with s.mu held.
func (s *Store) filterNodes(level course.Level, keep func(course.Node) bool) []course.Node {
	out := []course.Node{}
	for _, n := range s.nodes[level] {
		if keep(n) {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, compareNodes)
	return out
}

// filterLessons must be called with s.mu held.
func (s *Store) filterLessons(keep func(course.Lesson) bool) []course.Lesson {
	out := []course.Lesson{}
	for _, l := range s.lessons {
		if keep(l) {
			out = append(out, cloneLesson(l))
		}
	}
	slices.SortFunc(out, func(a, b course.Lesson) int {
		if a.Order != b.Order {
			return a.Order - b.Order
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func compareNodes(a, b course.Node) int {
	if a.Order != b.Order {
		return a.Order - b.Order
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func cloneLesson(l course.Lesson) course.Lesson {
	l.Tags = slices.Clone(l.Tags)
	return l
}

func idSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
