package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveUUIDPassesThroughValidUUID(t *testing.T) {
	const valid = "550e8400-e29b-41d4-a716-446655440000"
	assert.Equal(t, valid, DeriveUUID(valid).String())
}

func TestDeriveUUIDDeterministic(t *testing.T) {
	a := DeriveUUID("ses_01jcdef")
	b := DeriveUUID("ses_01jcdef")
	assert.Equal(t, a, b)
}

func TestDeriveUUIDDistinctInputs(t *testing.T) {
	assert.NotEqual(t, DeriveUUID("msg_1"), DeriveUUID("msg_2"))
}

func TestDeriveUUIDShape(t *testing.T) {
	id := DeriveUUID("some-tool-native-id")
	require.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, uuid.Version(4), id.Version())
	assert.Equal(t, uuid.RFC4122, id.Variant())
}
