package storage_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/slidecast/slidecast/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		name       string
		ref        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{"plain", "presentations/abc/audio/slide_1.wav", "presentations", "abc/audio/slide_1.wav", false},
		{"leading slash", "/output/abc.mp4", "output", "abc.mp4", false},
		{"no key", "output", "", "", true},
		{"empty", "", "", "", true},
		{"bare slash", "/", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := storage.ParseRef(tt.ref)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestKeys(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8/notes/slide_2.txt", storage.NoteKey(id, 2))
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8/audio/slide_7.wav", storage.AudioKey(id, 7))
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8.mp4", storage.VideoKey(id))
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8/", storage.JobPrefix(id))
}

func TestMemoryGatewayRoundTrip(t *testing.T) {
	g := storage.NewMemoryGateway()
	ctx := context.Background()

	ref, err := g.Put(ctx, storage.BucketPresentations, "job/notes/slide_1.txt", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "presentations/job/notes/slide_1.txt", ref)

	data, err := g.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	refs, err := g.List(ctx, storage.BucketPresentations, "job/")
	require.NoError(t, err)
	assert.Equal(t, []string{ref}, refs)

	require.NoError(t, g.Delete(ctx, ref))
	_, err = g.Get(ctx, ref)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}
