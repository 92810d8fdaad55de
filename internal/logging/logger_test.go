package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	log, err := New("debug", "json")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zap.DebugLevel))

	log, err = New("warn", "console")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zap.InfoLevel))

	_, err = New("loud", "json")
	require.Error(t, err)
	_, err = New("info", "xml")
	require.Error(t, err)
}
