package marketplace_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litescript/smartim-build/internal/marketplace"
)

func TestLatestVersion(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/plugins/com.example.smartim/updates":
			assert.Equal(t, "eap", r.URL.Query().Get("channel"))
			assert.Equal(t, "1", r.URL.Query().Get("size"))
			_, _ = io.WriteString(w, `[{"id": 7, "version": "1.2.3", "channel": "eap"}]`)
		case "/api/plugins/com.example.empty/updates":
			_, _ = io.WriteString(w, `[]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := marketplace.NewClient(srv.URL+"/", "")
	ctx := context.Background()

	v, err := c.LatestVersion(ctx, "com.example.smartim", "eap")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", v)

	v, err = c.LatestVersion(ctx, "com.example.empty", "")
	require.NoError(t, err)
	assert.Empty(t, v)

	v, err = c.LatestVersion(ctx, "com.example.unknown", "")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestLatestVersionServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := marketplace.NewClient(srv.URL, "").LatestVersion(context.Background(), "p", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maintenance")
}

func TestUpload(t *testing.T) {
	t.Parallel()

	artifact := filepath.Join(t.TempDir(), "smart-im-switcher-1.2.3.zip")
	require.NoError(t, os.WriteFile(artifact, []byte("zip bytes"), 0644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/plugin/uploadPlugin", r.URL.Path)
		assert.Equal(t, "Bearer perm:secret", r.Header.Get("Authorization"))

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "com.example.smartim", r.FormValue("xmlId"))
		assert.Equal(t, "default", r.FormValue("channel"))

		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "smart-im-switcher-1.2.3.zip", hdr.Filename)
		assert.Equal(t, "zip bytes", string(data))
	}))
	defer srv.Close()

	c := marketplace.NewClient(srv.URL, "perm:secret")
	require.NoError(t, c.Upload(context.Background(), "com.example.smartim", "", artifact))
}

func TestUploadErrors(t *testing.T) {
	t.Parallel()

	artifact := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, os.WriteFile(artifact, []byte("x"), 0644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "version already exists", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := marketplace.NewClient(srv.URL, "").Upload(context.Background(), "p", "", artifact)
	require.ErrorIs(t, err, marketplace.ErrNoToken)

	err = marketplace.NewClient(srv.URL, "t").Upload(context.Background(), "p", "", artifact)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version already exists")

	err = marketplace.NewClient(srv.URL, "t").Upload(context.Background(), "p", "", filepath.Join(t.TempDir(), "missing.zip"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
