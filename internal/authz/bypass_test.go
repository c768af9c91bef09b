package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBypassAuthorizer(t *testing.T) {
	a, err := NewBypassAuthorizer("mod-1")
	require.NoError(t, err)

	assert.True(t, a.CanBypassLocation("mod-1"))
	assert.False(t, a.CanBypassLocation("alice"))
	assert.False(t, a.CanBypassLocation(""))

	require.NoError(t, a.Grant("alice"))
	assert.True(t, a.CanBypassLocation("alice"))

	require.NoError(t, a.Revoke("alice"))
	assert.False(t, a.CanBypassLocation("alice"))
}
