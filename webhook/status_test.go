package webhook

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_StringRoundtrip(t *testing.T) {
	statuses := []Status{Pending, InProgress, Retrying, Delivered, Failed}
	for _, s := range statuses {
		assert.Equal(t, s, NewStatus(s.String()))
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.True(t, Delivered.IsTerminal())
	assert.True(t, Failed.IsTerminal())
	assert.False(t, Pending.IsTerminal())
	assert.False(t, InProgress.IsTerminal())
	assert.False(t, Retrying.IsTerminal())
}

func TestStatus_CanTransition(t *testing.T) {
	assert.True(t, Pending.CanTransition(InProgress))
	assert.True(t, InProgress.CanTransition(Delivered))
	assert.True(t, InProgress.CanTransition(Retrying))
	assert.True(t, Retrying.CanTransition(InProgress))

	assert.False(t, Delivered.CanTransition(Retrying))
	assert.False(t, Failed.CanTransition(InProgress))
	assert.False(t, Pending.CanTransition(Delivered))
}

func TestStatus_Validate(t *testing.T) {
	assert.NoError(t, Pending.Validate())
	assert.NoError(t, Failed.Validate())
	assert.Error(t, Status(0).Validate())
	assert.Error(t, Status(99).Validate())
}

func TestStatus_JSON(t *testing.T) {
	data, err := json.Marshal(Retrying)
	assert.NoError(t, err)
	assert.Equal(t, `"retrying"`, string(data))

	var s Status
	assert.NoError(t, json.Unmarshal([]byte(`"delivered"`), &s))
	assert.Equal(t, Delivered, s)
}
