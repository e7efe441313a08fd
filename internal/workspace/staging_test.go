package workspace

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStagingRoundTrip(t *testing.T) {
	s := NewStaging(t.TempDir())

	require.NoError(t, s.Write("job-1", "logo.png", []byte{0x89, 0x50}))
	require.NoError(t, s.Write("job-1", "docs/notes.txt", []byte("hello")))
	require.NoError(t, s.Write("job-2", "other.txt", []byte("x")))

	staged, err := s.ReadAll("job-1")
	require.NoError(t, err)
	require.Len(t, staged, 2)
	assert.Equal(t, []byte("hello"), staged["docs/notes.txt"])

	require.NoError(t, s.Remove("job-1"))
	staged, err = s.ReadAll("job-1")
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestStagingRejectsEscapingNames(t *testing.T) {
	s := NewStaging(t.TempDir())

	err := s.Write("job-1", "../../outside.txt", []byte("nope"))
	var escape *EntryEscapesRootError
	require.True(t, errors.As(err, &escape))
}

func TestStagingRemoveIsIdempotent(t *testing.T) {
	s := NewStaging(t.TempDir())
	require.NoError(t, s.Remove("missing-job"))
}
