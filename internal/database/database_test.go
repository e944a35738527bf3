package database

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationsFS, "migrations/*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	assert.Equal(t, len(ups), len(downs))

	body, err := migrationsFS.ReadFile("migrations/000001_init.up.sql")
	require.NoError(t, err)
	for _, table := range []string{"accounts", "engagements", "engagement_messages", "engagement_locks"} {
		assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS "+table)
	}
}

func TestReadEnvValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("# local\nOTHER=1\nexport DATABASE_URL=\"postgres://u:p@db/autopost\"\n"), 0644))

	got, err := readEnvValue(path, "DATABASE_URL")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db/autopost", got)

	_, err = readEnvValue(path, "MISSING")
	assert.Error(t, err)

	found, err := findEnvFile(filepath.Join(dir))
	require.NoError(t, err)
	assert.Equal(t, path, found)
}

func TestResolveURLPrefersExplicit(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://from-env")
	got, err := resolveURL("  postgres://explicit ")
	require.NoError(t, err)
	assert.Equal(t, "postgres://explicit", got)

	got, err = resolveURL("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://from-env", got)
}

func TestMigrationsAgainstPostgres(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	db, err := NewDB(url)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, MigrateUp(db))
	require.NoError(t, MigrateUp(db), "second run is a no-op")

	pool, err := NewPool(context.Background(), url, 2)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, MigrateRiver(context.Background(), pool))
}
