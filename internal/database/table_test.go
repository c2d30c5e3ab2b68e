package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func channelTable(db *DB) *Table {
	return NewTable(db, ChannelsTable, "cid", "cid", "name", "description")
}

func countRows(t *testing.T, db *DB, table string) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestUpsertIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	table := channelTable(db)
	ctx := context.Background()

	fields := Fields{"cid": "UC1", "name": "First", "description": "desc"}
	require.NoError(t, table.Upsert(ctx, fields))
	require.NoError(t, table.Upsert(ctx, fields))

	assert.Equal(t, 1, countRows(t, db, ChannelsTable))
}

func TestUpsertUpdatesExistingRow(t *testing.T) {
	db := setupTestDB(t)
	table := channelTable(db)
	ctx := context.Background()

	require.NoError(t, table.Upsert(ctx, Fields{"cid": "UC1", "name": "Old", "description": "kept"}))
	require.NoError(t, table.Upsert(ctx, Fields{"cid": "UC1", "name": "New"}))

	var cid, name, description string
	require.NoError(t, table.FetchByKey(ctx, "UC1", &cid, &name, &description))

	assert.Equal(t, "New", name)
	assert.Equal(t, "kept", description, "columns not supplied must be left untouched")
	assert.Equal(t, 1, countRows(t, db, ChannelsTable))
}

func TestUpsertKeyOnly(t *testing.T) {
	db := setupTestDB(t)
	table := NewTable(db, ChannelsTable, "cid", "cid")
	ctx := context.Background()

	// name is NOT NULL, so a key-only insert must fail and surface a StorageError
	err := table.Upsert(ctx, Fields{"cid": "UC1"})
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
}

func TestUpsertRequiresKey(t *testing.T) {
	db := setupTestDB(t)
	table := channelTable(db)

	err := table.Upsert(context.Background(), Fields{"name": "no key"})
	require.Error(t, err)

	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "upsert", se.Op)
	assert.Equal(t, ChannelsTable, se.Table)
}

func TestConcurrentUpsertsCreateOneRow(t *testing.T) {
	db := setupTestDB(t)
	table := channelTable(db)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- table.Upsert(ctx, Fields{"cid": "UC1", "name": fmt.Sprintf("writer-%d", i)})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, countRows(t, db, ChannelsTable))
}

func TestFetchByKeyNotFound(t *testing.T) {
	db := setupTestDB(t)
	table := channelTable(db)

	var cid, name, description string
	err := table.FetchByKey(context.Background(), "missing", &cid, &name, &description)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, IsStorageError(err))
}

func TestExists(t *testing.T) {
	db := setupTestDB(t)
	table := channelTable(db)
	ctx := context.Background()

	exists, err := table.Exists(ctx, "UC1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, table.Upsert(ctx, Fields{"cid": "UC1", "name": "x", "description": ""}))

	exists, err = table.Exists(ctx, "UC1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListOrderingAndLimit(t *testing.T) {
	db := setupTestDB(t)
	table := channelTable(db)
	ctx := context.Background()

	for _, id := range []string{"b", "d", "a", "c"} {
		require.NoError(t, table.Upsert(ctx, Fields{"cid": id, "name": id, "description": ""}))
	}

	var ids []string
	err := table.List(ctx, ListOptions{
		Where:      []Condition{{Column: "cid", Op: ">=", Value: "b"}},
		OrderBy:    "cid",
		Descending: true,
		Limit:      2,
	}, func(row Row) error {
		var cid, name, description string
		if err := row.Scan(&cid, &name, &description); err != nil {
			return err
		}
		ids = append(ids, cid)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c"}, ids)
}

func TestListRejectsUnknownOperator(t *testing.T) {
	db := setupTestDB(t)
	table := channelTable(db)

	err := table.List(context.Background(), ListOptions{
		Where: []Condition{{Column: "cid", Op: "; DROP", Value: "x"}},
	}, func(Row) error { return nil })
	assert.True(t, IsStorageError(err))
}

func TestUpsertStatementPostgres(t *testing.T) {
	table := NewTable(&pgxExecutor{}, VideosTable, "vid", "vid")

	query, args := table.upsertStatement(Fields{"vid": "v1", "title": "t", "channel_cid": "c"})

	assert.Equal(t,
		"INSERT INTO videos (channel_cid, title, vid) VALUES ($1, $2, $3) ON CONFLICT (vid) "+
			"DO UPDATE SET channel_cid = excluded.channel_cid, title = excluded.title",
		query)
	assert.Equal(t, []interface{}{"c", "t", "v1"}, args)
}

func TestListStatementPlaceholders(t *testing.T) {
	table := NewTable(&pgxExecutor{}, VideosTable, "vid", "vid", "title")

	query, args, err := table.listStatement(ListOptions{
		Where: []Condition{
			{Column: "channel_cid", Op: "=", Value: "UC1"},
			{Column: "published_date", Op: ">=", Value: "2020-01-05 00:00:00"},
		},
		OrderBy:    "published_date",
		Descending: true,
		Limit:      3,
	})
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT vid, title FROM videos WHERE channel_cid = $1 AND published_date >= $2 ORDER BY published_date DESC LIMIT $3",
		query)
	assert.Len(t, args, 3)
}

func TestStorageErrorOnClosedDatabase(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	table := channelTable(db)
	db.Close()

	_, err = table.Exists(context.Background(), "UC1")
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
}

func TestMigrateIsRepeatable(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, Migrate(context.Background(), db))
}
