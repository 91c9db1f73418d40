package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/asd-go/service/config"
)

func newTestStore(t *testing.T, template string) (IService, string) {
	t.Helper()
	folder := t.TempDir()
	s := config.Defaults()
	s.ModelsFolder = folder
	s.ArtifactURLTemplate = template
	return NewRemote(config.New(s)), folder
}

func TestFetchDownloadsMissingArtifact(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/artifacts/abc123", r.URL.Path)
		_, _ = w.Write([]byte("onnx-bytes"))
	}))
	defer server.Close()

	store, folder := newTestStore(t, server.URL+"/artifacts/%s")

	path, err := store.Fetch(context.Background(), "abc123", "vgg.onnx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(folder, "vgg.onnx"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "onnx-bytes", string(data))

	// Second fetch is satisfied by the presence check
	_, err = store.Fetch(context.Background(), "abc123", "vgg.onnx")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	leftovers, err := filepath.Glob(filepath.Join(folder, "*.part"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFetchSkipsPresentArtifact(t *testing.T) {
	store, folder := newTestStore(t, "")
	require.NoError(t, os.WriteFile(filepath.Join(folder, "b0.onnx"), []byte("x"), 0644))

	path, err := store.Fetch(context.Background(), "", "b0.onnx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(folder, "b0.onnx"), path)
}

func TestFetchWithoutRemoteFails(t *testing.T) {
	store, _ := newTestStore(t, "")
	_, err := store.Fetch(context.Background(), "abc", "b7.onnx")
	assert.ErrorContains(t, err, "no remote source")
}

func TestFetchRemoteErrorLeavesNothingBehind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	store, folder := newTestStore(t, server.URL+"/%s")
	_, err := store.Fetch(context.Background(), "missing", "inception.onnx")
	assert.ErrorContains(t, err, "unexpected status 404")

	_, statErr := os.Stat(filepath.Join(folder, "inception.onnx"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestConcurrentFetchDownloadsOnce(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte("weights"))
	}))
	defer server.Close()

	store, _ := newTestStore(t, server.URL+"/%s")

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Fetch(context.Background(), "id", "vgg.onnx")
			errs <- err
		}()
	}

	// Let every caller reach the in-flight download before it completes
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestCancelledCallerDoesNotAbortSharedDownload(t *testing.T) {
	var hits atomic.Int32
	requested := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			close(requested)
		}
		<-release
		_, _ = w.Write([]byte("onnx-bytes"))
	}))
	defer server.Close()

	store, folder := newTestStore(t, server.URL+"/%s")

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := store.Fetch(ctx, "abc123", "vgg.onnx")
		first <- err
	}()
	<-requested

	second := make(chan error, 1)
	go func() {
		_, err := store.Fetch(context.Background(), "abc123", "vgg.onnx")
		second <- err
	}()

	cancel()
	select {
	case err := <-first:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(release)
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("download did not finish")
	}

	data, err := os.ReadFile(filepath.Join(folder, "vgg.onnx"))
	require.NoError(t, err)
	assert.Equal(t, "onnx-bytes", string(data))
	assert.Equal(t, int32(1), hits.Load())
}
