package pagination

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	assert.Equal(t, DefaultLimit+1, LimitWithBuffer(-3))
}

func TestCursorIsURLSafe(t *testing.T) {
	in := Cursor{CreatedAt: time.Date(2026, 10, 17, 9, 30, 0, 123, time.FixedZone("IST", 19800)), ID: uuid.New()}
	encoded := EncodeCursor(in)
	assert.False(t, strings.ContainsAny(encoded, "+/="))

	out, err := ParseCursor(encoded)
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.ID, out.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	got, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, got)

	for _, bad := range []string{"***", encodeRaw("no-separator"), encodeRaw("yesterday|" + uuid.NewString()), encodeRaw(time.Now().Format(time.RFC3339Nano) + "|nope")} {
		_, err := ParseCursor(bad)
		assert.Error(t, err, bad)
	}
}

func encodeRaw(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestTrim(t *testing.T) {
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]Cursor, 4)
	for i := range rows {
		rows[i] = Cursor{CreatedAt: base.Add(-time.Duration(i) * time.Hour), ID: uuid.New()}
	}
	identity := func(c Cursor) Cursor { return c }

	page, next := Trim(rows, 3, identity)
	require.Len(t, page, 3)
	cursor, err := ParseCursor(next)
	require.NoError(t, err)
	assert.Equal(t, rows[2].ID, cursor.ID)

	page, next = Trim(rows[:2], 3, identity)
	assert.Len(t, page, 2)
	assert.Empty(t, next)
}
