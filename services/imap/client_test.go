package imap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckUIDValidity_ZeroIsAnError(t *testing.T) {
	// Arrange / Act
	v, err := checkUIDValidity("INBOX", 7)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint32(7), v)

	_, err = checkUIDValidity("INBOX", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no uidvalidity")
}
