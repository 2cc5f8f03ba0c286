package ingestqueue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeQueueFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDrainOnceArchivesFileOn2xx(t *testing.T) {
	dir := t.TempDir()
	writeQueueFile(t, dir, "conversation_2024-01-01T00-00-00_abcd.json", `{"project_id":"global","messages":[]}`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversation/store", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(dir, srv.URL, zerolog.Nop())
	result, err := d.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 0, result.Failed)

	_, err = os.Stat(filepath.Join(dir, "conversation_2024-01-01T00-00-00_abcd.json"))
	assert.True(t, os.IsNotExist(err), "original file should be moved out of the queue dir")

	_, err = os.Stat(filepath.Join(dir, "processed", "conversation_2024-01-01T00-00-00_abcd.json"))
	assert.NoError(t, err, "file should be archived under processed/")
}

func TestDrainOnceLeavesFileOnNon2xx(t *testing.T) {
	dir := t.TempDir()
	name := "conversation_2024-01-01T00-00-01_efgh.json"
	writeQueueFile(t, dir, name, `{"project_id":"global","messages":[]}`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(dir, srv.URL, zerolog.Nop())
	result, err := d.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	_, err = os.Stat(filepath.Join(dir, name))
	assert.NoError(t, err, "failed file must remain in the queue for the next pass")
}

func TestDrainOnceIsNoopOnMissingQueueDir(t *testing.T) {
	d := New(filepath.Join(t.TempDir(), "does-not-exist"), "http://example.invalid", zerolog.Nop())
	result, err := d.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
}

func TestDrainOnceIgnoresNonConversationFiles(t *testing.T) {
	dir := t.TempDir()
	writeQueueFile(t, dir, "notes.txt", "irrelevant")

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(dir, srv.URL, zerolog.Nop())
	result, err := d.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, 0, result.Succeeded+result.Failed)
}

func TestCheckHealthReflectsEndpointStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := New(t.TempDir(), srv.URL, zerolog.Nop())
	assert.True(t, d.CheckHealth(context.Background()))

	d2 := New(t.TempDir(), "http://127.0.0.1:1", zerolog.Nop())
	assert.False(t, d2.CheckHealth(context.Background()))
}
