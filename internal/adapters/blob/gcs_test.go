package blob

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type fakeGCS struct {
	mu      sync.Mutex
	methods []string
	paths   []string
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	f.mu.Lock()
	f.methods = append(f.methods, r.Method)
	f.paths = append(f.paths, r.URL.Path)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.Method {
	case http.MethodPost:
		_ = json.NewEncoder(w).Encode(map[string]any{"name": r.URL.Query().Get("name"), "bucket": "rent-bucket"})
	case http.MethodDelete:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"No such object"}}`))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestGCSStorageUploadsAndToleratesMissingDelete(t *testing.T) {
	fake := &fakeGCS{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	store, err := NewGCSStorage(ctx, "rent-bucket", "",
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	url, err := store.Put(ctx, "documents/u1/aadhar_1_my scan.png", "image/png", strings.NewReader("bytes"))
	require.NoError(t, err)
	assert.Equal(t, "https://storage.googleapis.com/rent-bucket/documents/u1/aadhar_1_my%20scan.png", url)

	require.NoError(t, store.Delete(ctx, "documents/u1/aadhar_1_my scan.png"))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.methods, 2)
	assert.Equal(t, http.MethodPost, fake.methods[0])
	assert.Contains(t, fake.paths[0], "/b/rent-bucket/o")
	assert.Equal(t, http.MethodDelete, fake.methods[1])
}

func TestNewGCSStorageRequiresBucket(t *testing.T) {
	_, err := NewGCSStorage(context.Background(), "", "")
	assert.Error(t, err)
}
