package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata/scenarios. Scenarios
// with a golden file are compared against it as well.
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name, "file name and scenario name differ")

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)

			if _, err := os.Stat(filepath.Join("testdata", "golden", name+".golden")); err == nil {
				AssertGolden(t, name, result)
			}
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/partial_sheet.yaml")
	require.NoError(t, err)

	var outputs []string
	for i := 0; i < 2; i++ {
		result, err := Run(scenario)
		require.NoError(t, err)
		var b strings.Builder
		require.NoError(t, result.WriteText(&b))
		outputs = append(outputs, b.String())
	}
	assert.Equal(t, outputs[0], outputs[1])
}

func TestRun_FailedAssertionFailsResult(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_count
description: "expects a unit that the sheet never creates"
steps:
  - op: sync
    csv: |
      unit_name,chapter_name,topic_name,lesson_id,lesson_name
      Algebra,Linear Equations,One Variable,l_001,Lines
assertions:
  - type: node_count
    level: unit
    count: 2
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "node_count")
	assert.Contains(t, result.Errors[0], "expected 2 units, got 1")
}

func TestRun_UnexpectedStatus(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_status
description: "a rejected row degrades the run"
steps:
  - op: sync
    csv: |
      unit_name,chapter_name,topic_name,lesson_id,lesson_name
      Algebra,,One Variable,l_001,Lines
    expect: {status: ok}
assertions:
  - type: lesson_count
    count: 0
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{"step 1: status = degraded, want ok"}, result.Errors)
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: no_error
description: "an online store does not fail"
steps:
  - op: dedup
    expect: {error: true}
assertions:
  - type: states
    states: [Idle, Deduplicating, Done]
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, []string{"step 1: expected an error"}, result.Errors)
}

func TestRun_UnreadableCSV(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: bad_csv
description: "an unterminated quote cannot be read"
steps:
  - op: sync
    csv: "unit_name\n\"Algebra\n"
assertions:
  - type: lesson_count
    count: 0
`))
	require.NoError(t, err)

	_, err = Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1")
}

func TestLoadTree_SeededOrder(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: seeded
description: "explicit orders win over positions"
course: c
seed:
  - units:
      - name: B
        order: 2
      - name: A
        order: 1
        chapters:
          - name: Only
            topics:
              - name: T
                lessons:
                  - slug: l-2
                    order: 2
                  - slug: l-1
                    order: 1
steps:
  - op: dedup
assertions:
  - type: node
    path: [A]
    order: 1
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	tree := result.Tree
	require.Len(t, tree.Units, 2)
	assert.Equal(t, "A", tree.Units[0].Name)
	assert.Equal(t, "B", tree.Units[1].Name)
	lessons := tree.Units[0].Children[0].Children[0].Lessons
	require.Len(t, lessons, 2)
	assert.Equal(t, "l-1", lessons[0].Slug)
	assert.Equal(t, "l-2", lessons[1].Slug)
}
