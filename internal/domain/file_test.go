package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewOmitsPasswordHash(t *testing.T) {
	created := time.Unix(1700000000, 0).UTC()
	f := FileObject{
		ID:           FileID("0123456789abcdef0123456789abcdef"),
		CreatedAt:    created,
		ExpiresAt:    created.Add(time.Hour),
		BlobPath:     "data/blobs/0123456789abcdef0123456789abcdef.blob",
		PasswordHash: "$2a$12$abcdefghijklmnopqrstuv",
		Message:      "hi",
		Size:         5,
	}
	v := f.View()
	assert.Equal(t, f.ID, v.ID)
	assert.Equal(t, "hi", v.Message)
	assert.True(t, v.Protected)
	assert.False(t, v.BlobMissing)

	b, err := json.Marshal(v)
	require.NoError(t, err)
	body := string(b)
	assert.NotContains(t, body, "$2a$")
	assert.NotContains(t, strings.ToLower(body), "password")
	assert.Contains(t, body, `"path":"data/blobs/0123456789abcdef0123456789abcdef.blob"`)
	assert.NotContains(t, body, "blobMissing")
}

func TestProtected(t *testing.T) {
	assert.False(t, FileObject{}.Protected())
	assert.True(t, FileObject{PasswordHash: "x"}.Protected())
}
