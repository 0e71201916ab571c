package artifacts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"keyvex/internal/config"
	"keyvex/internal/tcc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTool(jobID string) *tcc.ToolDefinition {
	return &tcc.ToolDefinition{
		ID:            "0b7a4a8e-3f3c-4d8e-9d53-3d3f3b1a2c11",
		Slug:          "roi-calculator-" + jobID,
		JobID:         jobID,
		ComponentCode: "function ROICalculator() { return null; }",
		Metadata:      tcc.ToolMetadata{Title: "ROI Calculator", Description: "Estimates return on investment"},
		StyleMap:      map[string]string{"root": "p-4"},
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "tools/a.json", []byte(`{"a":1}`)))
	require.NoError(t, s.Put(ctx, "tools/b.json", []byte(`{"b":2}`)))
	require.NoError(t, s.Put(ctx, "other/c.json", []byte(`{}`)))

	data, err := s.Get(ctx, "tools/a.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	ok, err := s.Exists(ctx, "tools/b.json")
	require.NoError(t, err)
	assert.True(t, ok)

	keys, err := s.List(ctx, "tools/")
	require.NoError(t, err)
	assert.Equal(t, []string{"tools/a.json", "tools/b.json"}, keys)

	require.NoError(t, s.Delete(ctx, "tools/a.json"))
	require.NoError(t, s.Delete(ctx, "tools/a.json"), "deleting twice is fine")
	_, err = s.Get(ctx, "tools/a.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorage_RejectsEscapingKeys(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../secret", "/etc/passwd", "tools/../../x", `tools\x`, "tools//x"} {
		assert.Error(t, s.Put(context.Background(), key, []byte("x")), key)
	}
}

func TestArchive_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	archive := NewArchive(s)

	require.NoError(t, archive.SaveTool(ctx, sampleTool("job-1")))
	require.NoError(t, archive.SaveTool(ctx, sampleTool("job-2")))

	loaded, err := archive.LoadTool(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "ROI Calculator", loaded.Metadata.Title)
	assert.Equal(t, "roi-calculator-job-1", loaded.Slug)
	assert.True(t, loaded.CreatedAt.Equal(sampleTool("job-1").CreatedAt))

	ids, err := archive.ListTools(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1", "job-2"}, ids)

	require.NoError(t, archive.DeleteTool(ctx, "job-1"))
	_, err = archive.LoadTool(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, archive.SaveTool(ctx, &tcc.ToolDefinition{}))
	assert.Equal(t, "local", archive.Backend())
}

func TestNewStorage(t *testing.T) {
	ctx := context.Background()

	s, err := NewStorage(ctx, config.ArtifactsConfig{Backend: "local", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "local", s.Name())

	_, err = NewStorage(ctx, config.ArtifactsConfig{Backend: "s3"})
	assert.Error(t, err, "bucket is required")

	_, err = NewStorage(ctx, config.ArtifactsConfig{Backend: "ftp"})
	assert.Error(t, err)
}

// fakeS3 implements the handful of path-style S3 calls the storage uses.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	if bucket != "tools-bucket" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case r.Method == http.MethodGet && key == "" && r.URL.Query().Get("list-type") == "2":
		prefix := r.URL.Query().Get("prefix")
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
		fmt.Fprintf(&b, "<Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>", bucket, prefix, len(keys))
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(f.objects[k]))
		}
		b.WriteString(`</ListBucketResult>`)
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, b.String())
	case r.Method == http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		f.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			}
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.Header().Set("Content-Type", f.types[key])
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Storage_AgainstCompatibleEndpoint(t *testing.T) {
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "credentials"))
	t.Setenv("AWS_PROFILE", "default")

	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	s, err := NewS3Storage(ctx, S3Config{
		Bucket:    "tools-bucket",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		AccessKey: "test-access",
		SecretKey: "test-secret",
		PathStyle: true,
	})
	require.NoError(t, err)
	archive := NewArchive(s)

	require.NoError(t, archive.SaveTool(ctx, sampleTool("job-s3")))
	fake.mu.Lock()
	assert.Contains(t, fake.objects, "tools/job-s3.json")
	assert.Equal(t, "application/json", fake.types["tools/job-s3.json"])
	fake.mu.Unlock()

	loaded, err := archive.LoadTool(ctx, "job-s3")
	require.NoError(t, err)
	assert.Equal(t, "roi-calculator-job-s3", loaded.Slug)

	ok, err := s.Exists(ctx, "tools/job-s3.json")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exists(ctx, "tools/missing.json")
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := archive.ListTools(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-s3"}, ids)

	_, err = archive.LoadTool(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, archive.DeleteTool(ctx, "job-s3"))
	ok, err = s.Exists(ctx, "tools/job-s3.json")
	require.NoError(t, err)
	assert.False(t, ok)
}
