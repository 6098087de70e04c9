package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)
	mp4Bytes = append([]byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom"), make([]byte, 32)...)
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	return NewResolver(t.TempDir(), 5*time.Second, zap.NewNop())
}

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/a.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngBytes)
	})
	mux.HandleFunc("/page.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>not an image</body></html>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveLocalFiles(t *testing.T) {
	r := newResolver(t)
	img := writeFile(t, "a.png", pngBytes)
	video := writeFile(t, "clip.mp4", mp4Bytes)

	batch, err := r.Resolve(context.Background(), []string{img}, video, img)
	require.NoError(t, err)
	defer batch.Cleanup()

	assert.Equal(t, []string{img}, batch.Images)
	assert.Equal(t, video, batch.Video)
	assert.Equal(t, img, batch.Cover)
}

func TestResolveMissingFile(t *testing.T) {
	r := newResolver(t)

	_, err := r.Resolve(context.Background(), []string{"/does/not/exist.png"}, "", "")
	assert.ErrorIs(t, err, ErrMissingFile)
}

func TestResolveRejectsWrongType(t *testing.T) {
	r := newResolver(t)
	text := writeFile(t, "notes.txt", []byte("plain text, not a picture"))

	_, err := r.Resolve(context.Background(), []string{text}, "", "")
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = r.Resolve(context.Background(), nil, writeFile(t, "fake.mp4", pngBytes), "")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestResolveDownloadsRemoteImagesInOrder(t *testing.T) {
	srv := imageServer(t)
	r := newResolver(t)
	local := writeFile(t, "local.png", pngBytes)

	batch, err := r.Resolve(context.Background(), []string{srv.URL + "/a.png", local, srv.URL + "/a.png"}, "", "")
	require.NoError(t, err)

	require.Len(t, batch.Images, 3)
	assert.Equal(t, local, batch.Images[1])
	for _, i := range []int{0, 2} {
		assert.Equal(t, ".png", filepath.Ext(batch.Images[i]))
		data, err := os.ReadFile(batch.Images[i])
		require.NoError(t, err)
		assert.Equal(t, pngBytes, data)
	}
	assert.NotEqual(t, batch.Images[0], batch.Images[2])

	batch.Cleanup()
	_, err = os.Stat(batch.Images[0])
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(local)
	assert.NoError(t, err)
}

func TestResolveFetchFailure(t *testing.T) {
	srv := imageServer(t)
	r := newResolver(t)

	_, err := r.Resolve(context.Background(), []string{srv.URL + "/missing.png"}, "", "")

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, srv.URL+"/missing.png", fetchErr.URL)
}

func TestResolveRejectsRemoteNonImage(t *testing.T) {
	srv := imageServer(t)
	r := newResolver(t)

	_, err := r.Resolve(context.Background(), []string{srv.URL + "/page.html"}, "", "")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://example.com/a.jpg"))
	assert.True(t, IsURL("http://example.com/a.jpg"))
	assert.False(t, IsURL("/tmp/a.jpg"))
	assert.False(t, IsURL("ftp://example.com/a.jpg"))
	assert.False(t, IsURL("C:\\images\\a.jpg"))
}

func TestCleanupNilBatch(t *testing.T) {
	var b *Batch
	assert.NotPanics(t, b.Cleanup)
}
