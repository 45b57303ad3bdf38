package keystore

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/tpm-encrypt/database"
)

type execCall struct {
	sql  string
	args []interface{}
}

type fakeRow struct {
	blob []byte
	err  error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.blob
	return nil
}

type fakeDB struct {
	execs      []execCall
	affected   int64
	row        fakeRow
	pingErr    error
	migrateErr error
	migrated   bool
	closed     bool
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...interface{}) (int64, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return f.affected, nil
}

func (f *fakeDB) QueryRow(context.Context, string, ...interface{}) database.Row {
	return f.row
}

func (f *fakeDB) MigrateWithIOFS(context.Context, source.Driver) error {
	f.migrated = true
	return f.migrateErr
}

func (f *fakeDB) Ping(context.Context) error { return f.pingErr }

func (f *fakeDB) Close() error {
	f.closed = true
	return nil
}

var _ database.Database = (*fakeDB)(nil)

func TestPreparePostgresStore(t *testing.T) {
	db := &fakeDB{}
	s, err := preparePostgresStore(context.Background(), db)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.True(t, db.migrated)
	assert.False(t, db.closed)
}

func TestPreparePostgresStore_PingFailureSkipsMigration(t *testing.T) {
	db := &fakeDB{pingErr: errors.New("dial tcp 127.0.0.1:1: connection refused")}
	_, err := preparePostgresStore(context.Background(), db)
	require.Error(t, err)
	assert.ErrorIs(t, err, db.pingErr)
	assert.False(t, db.migrated)
	assert.True(t, db.closed)
}

func TestPreparePostgresStore_MigrationFailureClosesPool(t *testing.T) {
	db := &fakeDB{migrateErr: errors.New("dirty database version 1")}
	_, err := preparePostgresStore(context.Background(), db)
	require.ErrorIs(t, err, db.migrateErr)
	assert.True(t, db.closed)
}

func TestPostgresStore_Put(t *testing.T) {
	db := &fakeDB{affected: 1}
	s := NewPostgresStore(db)

	require.NoError(t, s.Put(context.Background(), "/HS/SRK/alpha", []byte("blob")))
	require.Len(t, db.execs, 1)
	assert.Equal(t, upsertBlobSQL, db.execs[0].sql)
	assert.Equal(t, []interface{}{"/HS/SRK/alpha", []byte("blob")}, db.execs[0].args)
}

func TestPostgresStore_GetMapsNoRows(t *testing.T) {
	s := NewPostgresStore(&fakeDB{row: fakeRow{err: pgx.ErrNoRows}})
	_, err := s.Get(context.Background(), "/HS/SRK/alpha")
	assert.ErrorIs(t, err, ErrNotFound)

	s = NewPostgresStore(&fakeDB{row: fakeRow{blob: []byte("x")}})
	got, err := s.Get(context.Background(), "/HS/SRK/alpha")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
}

func TestPostgresStore_DeleteEscapesLikePattern(t *testing.T) {
	db := &fakeDB{affected: 2}
	s := NewPostgresStore(db)

	n, err := s.Delete(context.Background(), "/HS/SRK/my_key")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []interface{}{"/HS/SRK/my_key", `/HS/SRK/my\_key/%`}, db.execs[0].args)

	_, err = s.Delete(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"/", "/%"}, db.execs[1].args)

	require.NoError(t, s.Close())
	assert.True(t, db.closed)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `tpm:/HS/SRK/a\*b\?\[c\]`, escapeGlob("tpm:/HS/SRK/a*b?[c]"))
}
