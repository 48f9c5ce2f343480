package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/syllabus/internal/config"
	"github.com/roach88/syllabus/internal/course"
)

// DefaultCourse is the scenario course slug when none is given.
const DefaultCourse = "course"

// Scenario defines one reconciliation scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Course is the slug of the course the steps run against.
	Course string `yaml:"course,omitempty"`

	// Policy tunes the engine the same way a policy file does.
	Policy config.Policy `yaml:"policy,omitempty"`

	// Seed is the persisted state before the first step.
	Seed []SeedCourse `yaml:"seed,omitempty"`

	// Steps run in order against the same store.
	Steps []Step `yaml:"steps"`

	// Assertions validate the reports and the final store.
	Assertions []Assertion `yaml:"assertions"`
}

// SeedCourse is the persisted hierarchy of one course.
type SeedCourse struct {
	// Course defaults to the scenario course.
	Course string     `yaml:"course,omitempty"`
	Units  []SeedNode `yaml:"units"`
}

// SeedNode is a persisted unit, chapter or topic. Order defaults to the
// position among its siblings.
type SeedNode struct {
	Name     string       `yaml:"name"`
	Order    int          `yaml:"order,omitempty"`
	Chapters []SeedNode   `yaml:"chapters,omitempty"`
	Topics   []SeedNode   `yaml:"topics,omitempty"`
	Lessons  []SeedLesson `yaml:"lessons,omitempty"`
}

// SeedLesson is a persisted lesson of a topic. Title defaults to the slug
// and Order to the position in the topic.
type SeedLesson struct {
	Slug  string `yaml:"slug"`
	Title string `yaml:"title,omitempty"`
	Order int    `yaml:"order,omitempty"`
}

// Step is one engine invocation.
type Step struct {
	// Op is "sync" or "dedup".
	Op string `yaml:"op"`

	// CSV is the authoring source of a sync step.
	CSV string `yaml:"csv,omitempty"`

	// Offline makes the store unreachable for the whole step.
	Offline bool `yaml:"offline,omitempty"`

	// FailOn makes matching store mutations fail during the step.
	FailOn []FailRule `yaml:"fail_on,omitempty"`

	// Expect checks the report of the step.
	Expect *StepExpect `yaml:"expect,omitempty"`
}

// FailRule matches a store mutation. Empty fields match anything.
type FailRule struct {
	Kind  string `yaml:"kind,omitempty"` // create, update, update_order, delete
	Level string `yaml:"level,omitempty"`
	Name  string `yaml:"name,omitempty"` // node name or lesson slug
}

// StepExpect specifies the expected outcome of a step.
type StepExpect struct {
	Status string `yaml:"status,omitempty"`
	State  string `yaml:"state,omitempty"`
	// Error expects Sync or Dedup to return an error.
	Error bool `yaml:"error,omitempty"`
}

// Assertion validates a report or the final store.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Step is the 1-based step a report assertion reads; 0 means the last.
	Step int `yaml:"step,omitempty"`

	// Level is used by node_count and stage.
	Level string `yaml:"level,omitempty"`

	// Path is the unit, chapter and topic names of a node, or the topic of
	// a lesson.
	Path []string `yaml:"path,omitempty"`

	// Slug identifies a lesson.
	Slug string `yaml:"slug,omitempty"`

	// Absent inverts node and lesson assertions.
	Absent bool `yaml:"absent,omitempty"`

	Order   int      `yaml:"order,omitempty"`
	Title   string   `yaml:"title,omitempty"`
	Preview *bool    `yaml:"preview,omitempty"`
	Tags    []string `yaml:"tags,omitempty"`

	// Count is used by node_count, lesson_count and issue_count.
	Count *int `yaml:"count,omitempty"`

	// Code is the issue code counted by issue_count.
	Code string `yaml:"code,omitempty"`

	// Expect holds stage counters: created, updated, unchanged, deleted,
	// retained, skipped, failed.
	Expect map[string]int `yaml:"expect,omitempty"`

	// States is the exact history expected by states.
	States []string `yaml:"states,omitempty"`
}

// Assertion type constants.
const (
	AssertNodeCount   = "node_count"
	AssertNode        = "node"
	AssertLessonCount = "lesson_count"
	AssertLesson      = "lesson"
	AssertIssueCount  = "issue_count"
	AssertStage       = "stage"
	AssertStates      = "states"
)

// Step operations.
const (
	OpSync  = "sync"
	OpDedup = "dedup"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if scenario.Course == "" {
		scenario.Course = DefaultCourse
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if err := s.Policy.Apply(engineDefaults()).Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	for i, sc := range s.Seed {
		for j, u := range sc.Units {
			if err := validateSeedNode(fmt.Sprintf("seed[%d].units[%d]", i, j), u, course.LevelUnit); err != nil {
				return err
			}
		}
	}

	for i, step := range s.Steps {
		switch step.Op {
		case OpSync:
			if step.CSV == "" {
				return fmt.Errorf("steps[%d]: csv is required for sync", i)
			}
		case OpDedup:
			if step.CSV != "" {
				return fmt.Errorf("steps[%d]: dedup takes no csv", i)
			}
		default:
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
		for j, rule := range step.FailOn {
			if rule.Level != "" {
				if _, err := course.ParseLevel(rule.Level); err != nil {
					return fmt.Errorf("steps[%d].fail_on[%d]: %w", i, j, err)
				}
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, len(s.Steps)); err != nil {
			return err
		}
	}
	return nil
}

func validateSeedNode(path string, n SeedNode, level course.Level) error {
	if n.Name == "" {
		return fmt.Errorf("%s: name is required", path)
	}
	if n.Order < 0 {
		return fmt.Errorf("%s: order must be positive", path)
	}
	if level != course.LevelUnit && len(n.Chapters) > 0 {
		return fmt.Errorf("%s: only units have chapters", path)
	}
	if level != course.LevelChapter && len(n.Topics) > 0 {
		return fmt.Errorf("%s: only chapters have topics", path)
	}
	if level != course.LevelTopic && len(n.Lessons) > 0 {
		return fmt.Errorf("%s: only topics have lessons", path)
	}
	for i, c := range n.Chapters {
		if err := validateSeedNode(fmt.Sprintf("%s.chapters[%d]", path, i), c, course.LevelChapter); err != nil {
			return err
		}
	}
	for i, t := range n.Topics {
		if err := validateSeedNode(fmt.Sprintf("%s.topics[%d]", path, i), t, course.LevelTopic); err != nil {
			return err
		}
	}
	for i, l := range n.Lessons {
		if course.Slugify(l.Slug) != l.Slug || l.Slug == "" {
			return fmt.Errorf("%s.lessons[%d]: slug %q is not a valid slug", path, i, l.Slug)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, steps int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Step < 0 || a.Step > steps {
		return fmt.Errorf("assertions[%d]: step %d out of range", index, a.Step)
	}

	switch a.Type {
	case AssertNodeCount:
		if _, err := nodeLevel(a.Level); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for node_count", index)
		}
	case AssertNode:
		if len(a.Path) < 1 || len(a.Path) > 3 {
			return fmt.Errorf("assertions[%d]: path needs 1 to 3 names for node", index)
		}
	case AssertLessonCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for lesson_count", index)
		}
	case AssertLesson:
		if a.Slug == "" {
			return fmt.Errorf("assertions[%d]: slug is required for lesson", index)
		}
		if len(a.Path) != 0 && len(a.Path) != 3 {
			return fmt.Errorf("assertions[%d]: lesson path must name unit, chapter and topic", index)
		}
	case AssertIssueCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for issue_count", index)
		}
	case AssertStage:
		if _, err := course.ParseLevel(a.Level); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for stage", index)
		}
		for k := range a.Expect {
			if _, ok := stageCounters[k]; !ok {
				return fmt.Errorf("assertions[%d]: unknown stage counter %q", index, k)
			}
		}
	case AssertStates:
		if len(a.States) == 0 {
			return fmt.Errorf("assertions[%d]: states list is required for states", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func nodeLevel(s string) (course.Level, error) {
	level, err := course.ParseLevel(s)
	if err != nil {
		return 0, err
	}
	if level == course.LevelLesson {
		return 0, fmt.Errorf("level %q is not a node level", s)
	}
	return level, nil
}
