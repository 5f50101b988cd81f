package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"practice-pipeline/internal/config"
	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/ports/adapter"
)

func newLocal(t *testing.T) *Local {
	t.Helper()
	s, err := NewLocal(config.StorageConfig{Root: t.TempDir(), PublicPrefix: "/uploads"})
	require.NoError(t, err)
	return s
}

func TestLocal_SaveIsContentAddressed(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	a, err := s.Save(ctx, []byte("same bytes"), "first.png", adapter.SaveOptions{ContentType: "image/png"})
	require.NoError(t, err)
	b, err := s.Save(ctx, []byte("same bytes"), "second.png", adapter.SaveOptions{})
	require.NoError(t, err)

	assert.Equal(t, a.Checksum, b.Checksum)
	assert.Equal(t, a.Path, b.Path)
	assert.Equal(t, a.Checksum[:2]+"/"+a.Checksum+".png", a.Path)
	assert.EqualValues(t, 10, a.Bytes)

	c, err := s.Save(ctx, []byte("other bytes"), "x.png", adapter.SaveOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, a.Checksum, c.Checksum)

	data, err := s.Fetch(ctx, s.URL(a.Path))
	require.NoError(t, err)
	assert.Equal(t, "same bytes", string(data))
}

func TestLocal_FetchMissingObject(t *testing.T) {
	s := newLocal(t)
	_, err := s.Fetch(context.Background(), "ab/absent.png")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrImageObjectMissing)
	assert.True(t, domain.IsPermanent(err))
}

func TestLocal_RejectsTraversal(t *testing.T) {
	s := newLocal(t)
	_, err := s.Fetch(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestLocal_FetchRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("remote"))
	}))
	defer srv.Close()
	s := newLocal(t)

	data, err := s.Fetch(context.Background(), srv.URL+"/img.png")
	require.NoError(t, err)
	assert.Equal(t, "remote", string(data))

	_, err = s.Fetch(context.Background(), srv.URL+"/missing.png")
	assert.ErrorIs(t, err, domain.ErrImageObjectMissing)
}

func TestLocal_DeleteAndURL(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()
	res, err := s.Save(ctx, []byte("gone soon"), "g.webp", adapter.SaveOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/uploads/"+res.Path, s.URL(res.Path))

	require.NoError(t, s.Delete(ctx, res.Path))
	require.NoError(t, s.Delete(ctx, res.Path), "deleting twice is fine")
	_, err = s.Fetch(ctx, res.Path)
	assert.ErrorIs(t, err, domain.ErrImageObjectMissing)
}
