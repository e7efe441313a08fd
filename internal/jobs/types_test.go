package jobs

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobKindsAreDistinct(t *testing.T) {
	assert.NotEqual(t, GenerateArgs{}.Kind(), DeployArgs{}.Kind())
}

func TestInsertOptsUseDefaultQueue(t *testing.T) {
	assert.Equal(t, DefaultQueue, GenerateArgs{}.InsertOpts().Queue)
	assert.Equal(t, DefaultQueue, DeployArgs{}.InsertOpts().Queue)
	assert.Equal(t, MaxJobRetries, GenerateArgs{}.InsertOpts().MaxAttempts)
}

func TestGenerateArgsRoundTrip(t *testing.T) {
	id := uuid.New()
	raw, err := json.Marshal(GenerateArgs{JobID: id})
	require.NoError(t, err)

	var decoded GenerateArgs
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, id, decoded.JobID)
}
