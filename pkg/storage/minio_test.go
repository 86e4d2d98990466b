package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKeyPreservesExtension(t *testing.T) {
	key := ObjectKey("pothole-photo.PNG")
	assert.True(t, strings.HasPrefix(key, "uploads/"))
	assert.True(t, strings.HasSuffix(key, ".png"))
}

func TestObjectKeyDefaultsExtension(t *testing.T) {
	for _, hint := range []string{"", "photo", "weird.extension-that-is-long"} {
		key := ObjectKey(hint)
		assert.True(t, strings.HasSuffix(key, ".jpg"), "hint %q should default to .jpg, got %q", hint, key)
	}
}

func TestObjectKeyIsCollisionFree(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		key := ObjectKey("damage.jpg")
		require.False(t, seen[key], "duplicate key generated: %s", key)
		seen[key] = true
	}
}

func TestNewMinioStoreRequiresCredentials(t *testing.T) {
	_, err := NewMinioStore(MinioConfig{Endpoint: "localhost:9000"})
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	_, err = NewMinioStore(MinioConfig{AccessKey: "a", SecretKey: "b"})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}
