package storage

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolReusesHandlePerDSN(t *testing.T) {
	opened := 0
	pool := NewPool(func(dsn string) (*sql.DB, error) {
		opened++
		db, _, err := sqlmock.New()
		return db, err
	}, Options{MaxOpenConns: 4}, nil)

	a, err := pool.Get("postgres://a")
	require.NoError(t, err)
	b, err := pool.Get("postgres://a")
	require.NoError(t, err)
	c, err := pool.Get("postgres://c")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, opened)
	assert.NoError(t, pool.Close())
}

func TestPoolOpenError(t *testing.T) {
	pool := NewPool(func(string) (*sql.DB, error) { return nil, errors.New("boom") }, Options{}, nil)
	_, err := pool.Get("postgres://x")
	assert.ErrorContains(t, err, "boom")

	_, err = pool.Get("")
	assert.Error(t, err)
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, ValidIdentifier("collector_log"))
	assert.True(t, ValidIdentifier("public.focos"))
	assert.False(t, ValidIdentifier("focos; DROP TABLE x"))
	assert.False(t, ValidIdentifier("1abc"))
	assert.False(t, ValidIdentifier(""))
}
