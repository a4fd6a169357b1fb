package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestGeneratorNewID ensures generated IDs are unique, valid, and time ordered.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
	require.Less(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestGeneratorMustID(t *testing.T) {
	t.Parallel()

	_, err := goUUID.Parse(New().MustID())
	require.NoError(t, err)
}
