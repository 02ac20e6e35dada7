package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeline/internal/db"
)

func TestMigrateIsRepeatable(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	v, err := Version(ctx, conn)
	assert.Error(t, err, "schema_version does not exist yet")
	assert.Zero(t, v)

	require.NoError(t, Migrate(ctx, conn))
	require.NoError(t, Migrate(ctx, conn))

	all, err := Load()
	require.NoError(t, err)
	require.NotEmpty(t, all)
	v, err = Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, all[len(all)-1].Version, v)

	for _, table := range []string{"kv", "events", "fetch_runs"} {
		var name string
		err := conn.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}
