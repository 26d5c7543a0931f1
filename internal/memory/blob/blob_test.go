package blob

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keepsake/pkg/platform/circuit"
)

type fakeS3 struct {
	mu      sync.Mutex
	paths   []string
	failing bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	f.paths = append(f.paths, r.URL.Path)
	if f.failing {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func newTestBackend(t *testing.T, fake *fakeS3) *S3Backend {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client := s3.New(s3.Options{
		Region:           "eu-west-1",
		BaseEndpoint:     aws.String(srv.URL),
		UsePathStyle:     true,
		Credentials:      credentials.NewStaticCredentialsProvider("key", "secret", ""),
		RetryMaxAttempts: 1,
	})
	return NewS3WithClient(client, "keepsake-content", nil)
}

func TestS3BackendDelete(t *testing.T) {
	fake := &fakeS3{}
	b := newTestBackend(t, fake)

	require.NoError(t, b.Delete(context.Background(), "owner/42/clip.ogg"))

	require.Len(t, fake.paths, 1)
	assert.Equal(t, "/keepsake-content/owner/42/clip.ogg", fake.paths[0])
}

func TestS3BackendCircuitOpensAfterRepeatedFailures(t *testing.T) {
	fake := &fakeS3{failing: true}
	b := newTestBackend(t, fake)
	ctx := context.Background()

	for range 4 {
		err := b.Delete(ctx, "k")
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrUnavailable))
	}
	err := b.Delete(ctx, "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, circuit.StateOpen, b.breaker.State())

	fake.mu.Lock()
	fake.failing = false
	fake.mu.Unlock()
	require.NoError(t, b.Delete(ctx, "k"))
	assert.Equal(t, circuit.StateClosed, b.breaker.State())
}

func TestMemoryBackend(t *testing.T) {
	b := NewMemory()
	b.Put("a")
	b.FailOn("a", errors.New("disk gone"))

	require.Error(t, b.Delete(context.Background(), "a"))
	assert.True(t, b.Has("a"))

	b.FailOn("a", nil)
	require.NoError(t, b.Delete(context.Background(), "a"))
	require.NoError(t, b.Delete(context.Background(), "missing"))
	assert.False(t, b.Has("a"))
	assert.Equal(t, []string{"a", "missing"}, b.Deleted())
}
