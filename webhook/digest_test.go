package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigest_Deterministic(t *testing.T) {
	payload := []byte(`{"a":1}`)
	assert.Equal(t, Digest(payload), Digest(payload))
}

func TestDigest_SensitiveToInput(t *testing.T) {
	assert.NotEqual(t, Digest([]byte(`{"a":1}`)), Digest([]byte(`{"a":2}`)))
}

func TestDigest_EmptyPayload(t *testing.T) {
	assert.NotEmpty(t, Digest(nil))
}
