package store

import (
	"database/sql"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "syllabus.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// columns returns the column names of table, in declaration order.
func columns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func indexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ?", table)
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func schemaVersion(t *testing.T, db *sql.DB) int {
	t.Helper()
	var v int
	require.NoError(t, db.QueryRow("PRAGMA user_version").Scan(&v))
	return v
}

func TestOpen_ReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syllabus.db")
	for range 3 {
		s, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"courses", "units", "chapters", "topics", "lessons", "lesson_tags"} {
		assert.NotEmpty(t, columns(t, s.DB(), table), "table %s", table)
	}
	assert.Equal(t, currentSchemaVersion, schemaVersion(t, s.DB()))
}

func TestOpen_MissingDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "syllabus.db"))
	assert.Error(t, err)
}

func TestClose_Unopened(t *testing.T) {
	assert.NoError(t, (&Store{}).Close())
}

func TestPragmas(t *testing.T) {
	s := openTestStore(t)

	for _, p := range pragmas {
		got, err := s.pragma(p.name)
		require.NoError(t, err, p.name)
		assert.Equal(t, p.want, got, p.name)
	}
}

func TestSchema_Columns(t *testing.T) {
	s := openTestStore(t)
	node := []string{"id", "course_id", "parent_id", "name", "sort_order", "created_at"}

	tests := map[string][]string{
		"courses":     {"id", "slug", "title", "created_at"},
		"units":       node,
		"chapters":    node,
		"topics":      node,
		"lessons":     {"id", "course_id", "chapter_id", "topic_id", "code", "slug", "title", "sort_order", "preview", "created_at"},
		"lesson_tags": {"lesson_id", "position", "tag"},
	}
	for table, want := range tests {
		assert.Equal(t, want, columns(t, s.DB(), table), table)
	}
	for _, table := range []string{"units", "chapters", "topics"} {
		assert.Contains(t, indexes(t, s.DB(), table), "idx_"+table+"_parent_name")
	}
}

func TestSchema_Constraints(t *testing.T) {
	s := openTestStore(t)
	db := s.DB()
	_, err := db.Exec(`INSERT INTO courses (id, slug, created_at) VALUES ('c', 'c', 1)`)
	require.NoError(t, err)

	tests := []struct {
		name    string
		stmt    string
		wantErr bool
	}{
		{"chapter without unit", `INSERT INTO chapters (id, course_id, parent_id, name, sort_order, created_at) VALUES ('ch', 'c', 'missing', 'Linear Equations', 1, 1)`, true},
		{"zero order", `INSERT INTO units (id, course_id, parent_id, name, sort_order, created_at) VALUES ('u0', 'c', 'c', 'Algebra', 0, 1)`, true},
		{"first geometry", `INSERT INTO units (id, course_id, parent_id, name, sort_order, created_at) VALUES ('u1', 'c', 'c', 'Geometry', 1, 1)`, false},
		{"duplicate geometry", `INSERT INTO units (id, course_id, parent_id, name, sort_order, created_at) VALUES ('u2', 'c', 'c', 'Geometry', 1, 2)`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.Exec(tt.stmt)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMigrations_UpgradeFromUnversioned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syllabus.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	require.Equal(t, 0, schemaVersion(t, db))
	require.False(t, slices.Contains(indexes(t, db, "lessons"), "idx_lessons_slug_course"))
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, currentSchemaVersion, schemaVersion(t, s.DB()))
	assert.Contains(t, indexes(t, s.DB(), "lessons"), "idx_lessons_slug_course")
}
