package course

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLevelAndParent(t *testing.T) {
	topic := Key{Unit: "Algebra", Chapter: "Polynomials", Topic: "Zeroes"}
	assert.Equal(t, LevelTopic, topic.Level())
	assert.Equal(t, "Zeroes", topic.Name())
	assert.Equal(t, "Algebra::Polynomials::Zeroes", topic.String())

	chapter := topic.Parent()
	assert.Equal(t, Key{Unit: "Algebra", Chapter: "Polynomials"}, chapter)
	assert.Equal(t, LevelChapter, chapter.Level())

	unit := chapter.Parent()
	assert.Equal(t, Key{Unit: "Algebra"}, unit)
	assert.Equal(t, LevelUnit, unit.Level())
	assert.Equal(t, Key{}, unit.Parent())
}

func TestLevelString(t *testing.T) {
	for _, l := range []Level{LevelUnit, LevelChapter, LevelTopic, LevelLesson} {
		parsed, err := ParseLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	}

	_, err := ParseLevel("module")
	assert.Error(t, err)

	assert.Equal(t, LevelChapter, LevelUnit.Child())
	assert.Equal(t, Level(0), LevelLesson.Child())
}

func TestSourceRecordOrder(t *testing.T) {
	r := SourceRecord{RowIndex: 7}
	assert.Equal(t, 7, r.Order())

	r.Sequence = 12
	assert.Equal(t, 12, r.Order())
}

func TestSourceRecordSlug(t *testing.T) {
	r := SourceRecord{LessonToken: "cbse_maths_10_012"}
	assert.Equal(t, "cbse-maths-10-012", r.Slug())
}

func TestLevelJSON(t *testing.T) {
	b, err := json.Marshal(map[string]Level{"level": LevelChapter})
	require.NoError(t, err)
	assert.JSONEq(t, `{"level":"chapter"}`, string(b))

	var got struct{ Level Level }
	require.NoError(t, json.Unmarshal([]byte(`{"Level":"topic"}`), &got))
	assert.Equal(t, LevelTopic, got.Level)

	assert.Error(t, json.Unmarshal([]byte(`{"Level":"module"}`), &got))
}
