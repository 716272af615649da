package artifact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "demo", "demo_gcodeV1_2.zip", []byte("PK")))
	require.NoError(t, s.Put(ctx, "demo", "/demo_gerberV1.zip", []byte("PK2")))
	require.NoError(t, s.Put(ctx, "other", "x.zip", nil))

	got, err := s.Get(ctx, "demo", "demo_gcodeV1_2.zip")
	require.NoError(t, err)
	assert.Equal(t, "PK", string(got))

	names, err := s.List(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"demo_gcodeV1_2.zip", "demo_gerberV1.zip"}, names)

	_, err = s.Get(ctx, "demo", "missing.zip")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.Put(ctx, " ", "x.zip", nil))
	assert.Error(t, s.Put(ctx, "demo", "", nil))
	assert.Error(t, s.Put(ctx, "demo", "sub/x.zip", nil))
	assert.Error(t, s.Put(ctx, "a/b", "x.zip", nil))

	names, err = s.List(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/zip", contentType("demo_gcodeV1_1.ZIP"))
	assert.Equal(t, "application/octet-stream", contentType("merged_output.ngc"))
}

func TestNewS3StoreValidatesConfig(t *testing.T) {
	_, err := NewS3Store(S3Config{})
	assert.Error(t, err)
	_, err = NewS3Store(S3Config{Endpoint: "localhost:9000", AccessKey: "a"})
	assert.Error(t, err)

	s, err := NewS3Store(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "pcb"})
	require.NoError(t, err)
	url, err := s.GetURL(context.Background(), "demo", "demo_gerberV1.zip")
	require.NoError(t, err)
	assert.Contains(t, url, "/pcb/demo/demo_gerberV1.zip")
}
