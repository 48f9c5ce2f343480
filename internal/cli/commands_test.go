package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syllabus/internal/logger"
)

const maths10 = "Sl. No.,unit_name,chapter_name,topic_name,lesson_id,lesson_name,tags\n" +
	"1,Algebra,Linear Equations,One Variable,cbse_maths_10_001,What is a line?,basics\n" +
	"2,Algebra,Linear Equations,One Variable,cbse_maths_10_002,Slope,\n" +
	"3,Algebra,Linear Equations,Two Variables,cbse_maths_10_003,Systems,\"graphs, substitution\"\n"

// runCLI executes the root command with a silent logger and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(&RootOptions{Logger: logger.NewNop()})
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "course.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newCourseDB(t *testing.T) string {
	t.Helper()
	return newCourseDBWith(t, "sqlite")
}

func newCourseDBWith(t *testing.T, driver string) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "syllabus.db")
	_, err := runCLI(t, "--driver", driver, "--db", db, "course", "add", "CBSE Maths 10", "--title", "Mathematics, Class 10")
	require.NoError(t, err)
	return db
}

func TestCourseAdd(t *testing.T) {
	db := filepath.Join(t.TempDir(), "syllabus.db")

	out, err := runCLI(t, "--db", db, "course", "add", "cbse-maths-10")
	require.NoError(t, err)
	assert.Contains(t, out, "Created course cbse-maths-10")

	_, err = runCLI(t, "--db", db, "course", "add", "cbse-maths-10")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "already exists")
}

func TestCourseAdd_InvalidSlug(t *testing.T) {
	db := filepath.Join(t.TempDir(), "syllabus.db")
	_, err := runCLI(t, "--db", db, "course", "add", "!!!")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCourseShow_Unknown(t *testing.T) {
	db := newCourseDB(t)
	_, err := runCLI(t, "--db", db, "course", "show", "cbse-physics-10")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSync_ThenShow(t *testing.T) {
	db := newCourseDB(t)
	csv := writeCSV(t, maths10)

	out, err := runCLI(t, "--db", db, "sync", "cbse-maths-10", "--csv", csv)
	require.NoError(t, err)
	assert.Contains(t, out, "Status: ok")

	out, err = runCLI(t, "--db", db, "course", "show", "cbse-maths-10")
	require.NoError(t, err)
	assert.Contains(t, out, `"Mathematics, Class 10"`)
	assert.Contains(t, out, "Units: 1  Chapters: 1  Topics: 2  Lessons: 3")
	assert.Contains(t, out, "1. Algebra\n")
	assert.Contains(t, out, "   1. Linear Equations\n")
	assert.Contains(t, out, "      1. One Variable (2 lessons)\n")
	assert.Contains(t, out, "      2. Two Variables (1 lessons)\n")
}

func TestSync_IsIdempotent(t *testing.T) {
	db := newCourseDB(t)
	csv := writeCSV(t, maths10)

	_, err := runCLI(t, "--db", db, "sync", "cbse-maths-10", "--csv", csv)
	require.NoError(t, err)
	_, err = runCLI(t, "--db", db, "sync", "cbse-maths-10", "--csv", csv, "--lesson-mode", "upsert")
	require.NoError(t, err)

	out, err := runCLI(t, "--db", db, "--format", "json", "course", "show", "cbse-maths-10")
	require.NoError(t, err)

	var resp struct {
		Status string  `json:"status"`
		Data   Outline `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Counts.Units)
	assert.Equal(t, 2, resp.Data.Counts.Topics)
	assert.Equal(t, 3, resp.Data.Counts.Lessons)
	require.Len(t, resp.Data.Units, 1)
	assert.Equal(t, "Algebra", resp.Data.Units[0].Name)
}

func TestSync_JSONReport(t *testing.T) {
	db := newCourseDB(t)
	csv := writeCSV(t, maths10)

	out, err := runCLI(t, "--db", db, "--format", "json", "sync", "cbse-maths-10", "--csv", csv)
	require.NoError(t, err)

	var resp Envelope
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
	assert.NotNil(t, resp.Data)
}

func TestSync_ExitCodes(t *testing.T) {
	degraded := maths10 + "4,Algebra,,Orphaned,cbse_maths_10_004,No chapter,\n"

	tests := []struct {
		name     string
		ref      string
		csv      string
		extra    []string
		wantCode int
	}{
		{"ok", "cbse-maths-10", maths10, nil, ExitSuccess},
		{"unknown course", "cbse-physics-10", maths10, nil, ExitCommandError},
		{"degraded", "cbse-maths-10", degraded, nil, ExitSuccess},
		{"degraded strict", "cbse-maths-10", degraded, []string{"--strict"}, ExitFailure},
		{"bad lesson mode", "cbse-maths-10", maths10, []string{"--lesson-mode", "merge"}, ExitCommandError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newCourseDB(t)
			args := append([]string{"--db", db, "sync", tt.ref, "--csv", writeCSV(t, tt.csv)}, tt.extra...)
			_, err := runCLI(t, args...)
			assert.Equal(t, tt.wantCode, GetExitCode(err), "err: %v", err)
		})
	}
}

func TestSync_MissingCSV(t *testing.T) {
	db := newCourseDB(t)
	_, err := runCLI(t, "--db", db, "sync", "cbse-maths-10", "--csv", filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to read CSV")
}

func TestSync_PolicyFile(t *testing.T) {
	db := newCourseDB(t)
	policy := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(policy, []byte("lessons:\n  mode: sideways\n"), 0o644))

	_, err := runCLI(t, "--db", db, "sync", "cbse-maths-10", "--csv", writeCSV(t, maths10), "--policy", policy)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid sync policy")
}

func TestDedup(t *testing.T) {
	db := newCourseDB(t)
	_, err := runCLI(t, "--db", db, "sync", "cbse-maths-10", "--csv", writeCSV(t, maths10))
	require.NoError(t, err)

	out, err := runCLI(t, "--db", db, "dedup", "cbse-maths-10")
	require.NoError(t, err)
	assert.Contains(t, out, "Status: ok")

	_, err = runCLI(t, "--db", db, "dedup", "cbse-physics-10")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestUnknownDriver(t *testing.T) {
	_, err := runCLI(t, "--driver", "oracle", "course", "show", "x")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

type stageCounts struct {
	Level     string `json:"level"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Deleted   int    `json:"deleted"`
	Retained  int    `json:"retained"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

type runResponse struct {
	Status string `json:"status"`
	Data   struct {
		Status string        `json:"status"`
		Stages []stageCounts `json:"stages"`
		Dedup  *struct {
			Total map[string]int `json:"total"`
		} `json:"dedup"`
	} `json:"data"`
}

func (r runResponse) stage(t *testing.T, level string) stageCounts {
	t.Helper()
	for _, s := range r.Data.Stages {
		if s.Level == level {
			return s
		}
	}
	t.Fatalf("no %s stage in report", level)
	return stageCounts{}
}

func runJSON(t *testing.T, args ...string) runResponse {
	t.Helper()
	out, err := runCLI(t, args...)
	require.NoError(t, err)
	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

// Both SQLite drivers must agree on the counts of a full sync lifecycle.
func TestSyncLifecycle_Drivers(t *testing.T) {
	full := maths10 + "4,Algebra,Polynomials,Zeroes,cbse_maths_10_004,Zeroes of a polynomial,\n"
	partial := "Sl. No.,unit_name,chapter_name,topic_name,lesson_id,lesson_name,tags\n" +
		"1,Algebra,Linear Equations,One Variable,cbse_maths_10_001,What is a line?,basics\n" +
		"2,Algebra,Linear Equations,One Variable,cbse_maths_10_002,Slope,\n"

	for _, driver := range []string{"sqlite", "gorm-sqlite"} {
		t.Run(driver, func(t *testing.T) {
			db := newCourseDBWith(t, driver)
			base := []string{"--driver", driver, "--db", db, "--format", "json"}
			sync := func(csv string) runResponse {
				return runJSON(t, append(base, "sync", "cbse-maths-10", "--csv", writeCSV(t, csv))...)
			}

			first := sync(full)
			assert.Equal(t, "ok", first.Status)
			assert.Equal(t, 1, first.stage(t, "unit").Created)
			assert.Equal(t, 2, first.stage(t, "chapter").Created)
			assert.Equal(t, 3, first.stage(t, "topic").Created)
			assert.Equal(t, 4, first.stage(t, "lesson").Created)

			again := sync(full)
			assert.Equal(t, "ok", again.Status)
			for _, level := range []string{"unit", "chapter", "topic"} {
				s := again.stage(t, level)
				assert.Zero(t, s.Created, level)
				assert.Zero(t, s.Updated, level)
				assert.Zero(t, s.Deleted, level)
			}
			assert.Equal(t, 3, again.stage(t, "topic").Unchanged)
			assert.Equal(t, 4, again.stage(t, "lesson").Created)

			// Polynomials is retained as an orphan chapter; its topic is
			// never considered because its parent is not in the sheet.
			// Two Variables sits under a sheet chapter and is deleted.
			shrunk := sync(partial)
			assert.Equal(t, "ok", shrunk.Status)
			assert.Equal(t, 1, shrunk.stage(t, "chapter").Retained)
			assert.Zero(t, shrunk.stage(t, "chapter").Deleted)
			assert.Equal(t, 1, shrunk.stage(t, "topic").Deleted)
			assert.Zero(t, shrunk.stage(t, "topic").Retained)
			assert.Equal(t, 2, shrunk.stage(t, "lesson").Created)

			dedup := runJSON(t, append(base, "dedup", "cbse-maths-10")...)
			assert.Equal(t, "ok", dedup.Status)
			require.NotNil(t, dedup.Data.Dedup)
			assert.Empty(t, dedup.Data.Dedup.Total)

			out, err := runCLI(t, append(base, "course", "show", "cbse-maths-10")...)
			require.NoError(t, err)
			var show struct {
				Data Outline `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &show))
			assert.Equal(t, 1, show.Data.Counts.Units)
			assert.Equal(t, 2, show.Data.Counts.Chapters)
			assert.Equal(t, 2, show.Data.Counts.Topics)
			assert.Equal(t, 2, show.Data.Counts.Lessons)
		})
	}
}
