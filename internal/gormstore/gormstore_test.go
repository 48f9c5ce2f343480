package gormstore

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/gateway"
	"github.com/roach88/syllabus/internal/gateway/gatewaytest"
	"github.com/roach88/syllabus/internal/testutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "gorm.db"), WithClock(testutil.NewDeterministicClock().Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGatewayContract_SQLite(t *testing.T) {
	gatewaytest.Run(t, func(t *testing.T) gateway.Gateway { return openTestStore(t) })
}

// Set SYLLABUS_TEST_PG_DSN to a scratch database to run the contract on Postgres.
func TestGatewayContract_Postgres(t *testing.T) {
	dsn := os.Getenv("SYLLABUS_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("set SYLLABUS_TEST_PG_DSN to run Postgres integration tests")
	}
	gatewaytest.Run(t, func(t *testing.T) gateway.Gateway {
		s, err := OpenPostgres(dsn, WithClock(testutil.NewDeterministicClock().Now))
		require.NoError(t, err)
		for _, table := range []string{"lesson_tags", "lessons", "topics", "chapters", "units", "courses"} {
			require.NoError(t, s.DB().Exec("DELETE FROM "+table).Error)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	m := s.DB().Migrator()
	for _, table := range []string{"courses", "units", "chapters", "topics", "lessons", "lesson_tags"} {
		assert.True(t, m.HasTable(table), table)
	}
	assert.True(t, m.HasIndex("units", "idx_units_parent_name"))
	assert.True(t, m.HasIndex(&lessonRow{}, "idx_lessons_slug_course"))
}

func TestMigrate_NodeTablesHaveColumns(t *testing.T) {
	s := openTestStore(t)
	want := []string{"id", "course_id", "parent_id", "name", "sort_order", "created_at"}

	for _, table := range []string{"units", "chapters", "topics"} {
		cols, err := s.DB().Migrator().ColumnTypes(table)
		require.NoError(t, err, table)
		var names []string
		for _, c := range cols {
			names = append(names, c.Name())
		}
		assert.ElementsMatch(t, want, names, table)
	}
}

func TestOpenSQLite_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gorm.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	c, err := s.Courses().Create(ctx, course.Course{Slug: "cbse-maths-10", Title: "Mathematics"})
	require.NoError(t, err)
	u, err := s.Units().Create(ctx, course.Node{CourseID: c.ID, ParentID: c.ID, Name: "Algebra", Order: 1})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	units, err := s.Units().ListByCourse(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, u.ID, units[0].ID)
	assert.Equal(t, "Algebra", units[0].Name)
}

func TestCreate_RejectsNonPositiveOrder(t *testing.T) {
	s := openTestStore(t)
	f := gatewaytest.Seed(t, s, "c")
	_, err := s.Topics().Create(context.Background(), course.Node{CourseID: f.Course.ID, ParentID: f.Chapter.ID, Name: "Zero", Order: 0})
	assert.ErrorContains(t, err, "must be positive")
}

func TestDelete_RefusedWhileReferenced(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	f := gatewaytest.Seed(t, s, "c")

	err := s.Chapters().Delete(ctx, f.Chapter.ID)
	require.Error(t, err)
	assert.ErrorContains(t, err, "topics still reference")
	assert.False(t, gateway.IsUnavailable(err))

	_, err = s.Lessons().Create(ctx, course.Lesson{CourseID: f.Course.ID, ChapterID: f.Chapter.ID, TopicID: f.Topics[0].ID, Slug: "s", Order: 1})
	require.NoError(t, err)
	err = s.Topics().Delete(ctx, f.Topics[0].ID)
	assert.ErrorContains(t, err, "lessons still reference")

	require.NoError(t, s.Topics().Delete(ctx, f.Topics[1].ID))
}

func TestInTx_FailedWriteKeepsTransactionUsable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	f := gatewaytest.Seed(t, s, "c")

	err := s.InTx(ctx, func(tx gateway.Gateway) error {
		_, err := tx.Courses().Create(ctx, course.Course{Slug: "c"})
		require.Error(t, err, "duplicate slug")
		_, err = tx.Units().Create(ctx, course.Node{CourseID: f.Course.ID, ParentID: f.Course.ID, Name: "Geometry", Order: 2})
		return err
	})
	require.NoError(t, err)

	units, err := s.Units().ListByCourse(ctx, f.Course.ID)
	require.NoError(t, err)
	assert.Len(t, units, 2)
}

func TestPing_ClosedStoreUnavailable(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.True(t, gateway.IsUnavailable(s.Ping(context.Background())))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{"nil", nil, false},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"cannot connect now", &pgconn.PgError{Code: "57P03"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"network", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		{"closed", errors.New("sql: database is closed"), true},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.unavailable, gateway.IsUnavailable(got))
		})
	}
}
