package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDriverURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/slots?sslmode=disable", driverURL("postgres://u:p@localhost:5432/slots?sslmode=disable"))
	require.Equal(t, "pgx5://localhost/slots", driverURL("postgresql://localhost/slots"))
	require.Equal(t, "pgx5://localhost/slots", driverURL("pgx5://localhost/slots"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(files, "*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(files, "*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	require.Len(t, downs, len(ups))
}
