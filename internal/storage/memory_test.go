package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorageUpload(t *testing.T) {
	s := NewMemoryStorage("evidence")

	p, err := s.Upload(context.Background(), "reports/r1/photo.jpg", strings.NewReader("jpeg"), 4, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "evidence/reports/r1/photo.jpg", p)

	obj, ok := s.Get("reports/r1/photo.jpg")
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", obj.ContentType)
	assert.Equal(t, "jpeg", string(obj.Data))
}

func TestMemoryStorageSizeMismatch(t *testing.T) {
	s := NewMemoryStorage("evidence")
	_, err := s.Upload(context.Background(), "a", strings.NewReader("abc"), 10, "")
	require.Error(t, err)
	_, ok := s.Get("a")
	assert.False(t, ok)
}

func TestMemoryStorageCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryStorage("x").Upload(ctx, "a", strings.NewReader(""), 0, "")
	require.ErrorIs(t, err, context.Canceled)
}
