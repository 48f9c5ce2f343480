package memstore

import (
	"context"
	"maps"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/gateway"
)

// InTx runs fn against the store and restores the prior state if fn
// returns an error. It is not isolated from concurrent callers.
func (s *Store) InTx(ctx context.Context, fn func(tx gateway.Gateway) error) error {
	s.mu.Lock()
	if err := s.check(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.snapshot()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.restore(snap)
		s.mu.Unlock()
		return err
	}
	return nil
}

type snapshot struct {
	courses map[string]course.Course
	nodes   map[course.Level]map[string]course.Node
	lessons map[string]course.Lesson
}

// snapshot must be called with s.mu held.
func (s *Store) snapshot() snapshot {
	snap := snapshot{
		courses: maps.Clone(s.courses),
		nodes:   make(map[course.Level]map[string]course.Node, len(s.nodes)),
		lessons: make(map[string]course.Lesson, len(s.lessons)),
	}
	for level, m := range s.nodes {
		snap.nodes[level] = maps.Clone(m)
	}
	for id, l := range s.lessons {
		snap.lessons[id] = cloneLesson(l)
	}
	return snap
}

// restore must be called with s.mu held.
func (s *Store) restore(snap snapshot) {
	s.courses = snap.courses
	s.nodes = snap.nodes
	s.lessons = snap.lessons
}

var (
	_ gateway.Gateway    = (*Store)(nil)
	_ gateway.Transactor = (*Store)(nil)
)
