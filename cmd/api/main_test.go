package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDevUsers(t *testing.T) {
	users := parseDevUsers("alice:alice@example.com:Alice, bob:bob@example.com,:orphan@example.com,broken")
	require.Len(t, users, 2)

	assert.Equal(t, "alice", users[0].ID)
	assert.Equal(t, "alice@example.com", users[0].Email)
	assert.Equal(t, "Alice", users[0].DisplayName)

	assert.Equal(t, "bob", users[1].ID)
	assert.Empty(t, users[1].DisplayName)

	assert.Empty(t, parseDevUsers(""))
}
