package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/syllabus/internal/engine"
	"github.com/roach88/syllabus/internal/lessons"
	"github.com/roach88/syllabus/internal/reconcile"
)

// Policy is the YAML sync policy file:
//
//	orphans: {unit: retain, chapter: retain, topic: delete}
//	lessons: {mode: regenerate}
//	dedup: {before_sync: false}
//	transactions: true
//
// Absent keys keep the engine defaults.
type Policy struct {
	Orphans reconcile.OrphanPolicy `yaml:"orphans"`
	Lessons struct {
		Mode lessons.Mode `yaml:"mode"`
	} `yaml:"lessons"`
	Dedup struct {
		BeforeSync *bool `yaml:"before_sync"`
	} `yaml:"dedup"`
	Transactions *bool `yaml:"transactions"`
}

// LoadPolicy reads and validates a policy file.
func LoadPolicy(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open policy: %w", err)
	}
	defer f.Close()
	p, err := ParsePolicy(f)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

// ParsePolicy decodes a policy, rejecting unknown keys.
func ParsePolicy(r io.Reader) (*Policy, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var p Policy
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
	}
	if err := p.Orphans.Validate(); err != nil {
		return nil, err
	}
	if _, err := lessons.ParseMode(string(p.Lessons.Mode)); err != nil {
		return nil, err
	}
	return &p, nil
}

// Apply overlays the policy onto opts.
func (p *Policy) Apply(opts engine.Options) engine.Options {
	if p == nil {
		return opts
	}
	if p.Orphans.Unit != "" {
		opts.Orphans.Unit = p.Orphans.Unit
	}
	if p.Orphans.Chapter != "" {
		opts.Orphans.Chapter = p.Orphans.Chapter
	}
	if p.Orphans.Topic != "" {
		opts.Orphans.Topic = p.Orphans.Topic
	}
	if p.Lessons.Mode != "" {
		opts.LessonMode = p.Lessons.Mode
	}
	if p.Dedup.BeforeSync != nil {
		opts.DedupFirst = *p.Dedup.BeforeSync
	}
	if p.Transactions != nil {
		opts.Transactions = *p.Transactions
	}
	return opts
}
