package reconcile

import (
	"fmt"

	"github.com/roach88/syllabus/internal/course"
)

// OrphanAction says what happens to orphans at a level.
type OrphanAction string

const (
	OrphanRetain OrphanAction = "retain"
	OrphanDelete OrphanAction = "delete"
)

// OrphanPolicy holds one OrphanAction per node level.
type OrphanPolicy struct {
	Unit    OrphanAction `yaml:"unit" json:"unit"`
	Chapter OrphanAction `yaml:"chapter" json:"chapter"`
	Topic   OrphanAction `yaml:"topic" json:"topic"`
}

// DefaultOrphanPolicy keeps unit and chapter orphans, since a source may
// cover only part of a course, and deletes topic orphans.
func DefaultOrphanPolicy() OrphanPolicy {
	return OrphanPolicy{Unit: OrphanRetain, Chapter: OrphanRetain, Topic: OrphanDelete}
}

// For returns the action for level. Unset levels fall back to the default.
func (p OrphanPolicy) For(level course.Level) OrphanAction {
	var a OrphanAction
	switch level {
	case course.LevelUnit:
		a = p.Unit
	case course.LevelChapter:
		a = p.Chapter
	case course.LevelTopic:
		a = p.Topic
	}
	if a == "" && level >= course.LevelUnit && level <= course.LevelTopic {
		return DefaultOrphanPolicy().For(level)
	}
	return a
}

func (p OrphanPolicy) Validate() error {
	for _, a := range []OrphanAction{p.Unit, p.Chapter, p.Topic} {
		switch a {
		case "", OrphanRetain, OrphanDelete:
		default:
			return fmt.Errorf("invalid orphan action %q (want retain or delete)", a)
		}
	}
	return nil
}
