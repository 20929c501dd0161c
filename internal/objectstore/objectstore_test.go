package objectstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLayout(t *testing.T) {
	k1 := Key("user-1", media.TypeAudio, "../../etc/My Talk (final).mp3")
	k2 := Key("user-1", media.TypeAudio, "../../etc/My Talk (final).mp3")

	assert.NotEqual(t, k1, k2)
	parts := strings.Split(k1, "/")
	require.Len(t, parts, 3)
	assert.Equal(t, "user-1", parts[0])
	assert.Equal(t, "audio", parts[1])
	assert.True(t, strings.HasSuffix(parts[2], "-My_Talk__final_.mp3"), parts[2])
}

func TestSanitizeEmptyName(t *testing.T) {
	assert.Equal(t, "file", sanitize(""))
	assert.Equal(t, "file", sanitize("..."))
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, "a/b", strings.NewReader("payload"), 7, "text/plain"))

	rc, err := m.Open(ctx, "a/b")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, m.Delete(ctx, "a/b"))
	_, err = m.Open(ctx, "a/b")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
