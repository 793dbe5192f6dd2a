package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, found, err := db.GetDoc(ctx, "calls", "c1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, db.PutDoc(ctx, "calls", "c1", []byte(`{"status":"calling"}`)))
	body, found, err := db.GetDoc(ctx, "calls", "c1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"status":"calling"}`, string(body))

	require.NoError(t, db.UpdateDoc(ctx, "calls", "c1", func(cur []byte, found bool) ([]byte, error) {
		assert.True(t, found)
		return []byte(`{"status":"active"}`), nil
	}))

	rows, err := db.ListDocs(ctx, "calls")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c1", rows[0].ID)

	require.NoError(t, db.DeleteDoc(ctx, "calls", "c1"))
	require.NoError(t, db.DeleteDoc(ctx, "calls", "c1"))
	rows, err = db.ListDocs(ctx, "calls")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestChangeLog(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	seq, err := db.LastSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)

	require.NoError(t, db.PutDoc(ctx, "calls", "a", []byte(`{}`)))
	require.NoError(t, db.PutDoc(ctx, "calls", "b", []byte(`{}`)))
	require.NoError(t, db.DeleteDoc(ctx, "calls", "a"))

	changes, err := db.ChangesSince(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.Equal(t, []string{"a", "b", "a"}, []string{changes[0].ID, changes[1].ID, changes[2].ID})

	later, err := db.ChangesSince(ctx, changes[1].Seq, 10)
	require.NoError(t, err)
	require.Len(t, later, 1)

	n, err := db.PruneChanges(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}
