package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/config"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// exerciseBackend runs the common Backend contract against b.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	_, err := b.Read(ctx, "chain/0.json")
	assert.True(t, errors.Is(err, models.ErrNotFound), "got %v", err)

	exists, err := b.Exists(ctx, "chain/0.json")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, b.Write(ctx, "chain/0.json", []byte("zero")))
	require.NoError(t, b.Write(ctx, "chain/1.json", []byte("one")))
	require.NoError(t, b.Write(ctx, "evidence/e.json", []byte("ev")))
	require.NoError(t, b.Write(ctx, "chain/0.json", []byte("zero-v2")))

	data, err := b.Read(ctx, "chain/0.json")
	require.NoError(t, err)
	assert.Equal(t, "zero-v2", string(data))

	exists, err = b.Exists(ctx, "chain/0.json")
	require.NoError(t, err)
	assert.True(t, exists)

	listed, err := b.List(ctx, "chain/")
	require.NoError(t, err)
	assert.Equal(t, []string{"chain/0.json", "chain/1.json"}, listed)

	require.NoError(t, b.Delete(ctx, "chain/1.json"))
	_, err = b.Read(ctx, "chain/1.json")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	assert.NoError(t, b.HealthCheck(ctx))
}

func TestFilesystemBackend(t *testing.T) {
	root := t.TempDir()
	b, err := NewFilesystemBackend(root)
	require.NoError(t, err)
	exerciseBackend(t, b)

	entries, err := os.ReadDir(filepath.Join(root, "chain"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "temp file left behind: %s", e.Name())
	}
}

func TestFilesystemBackend_ConfinesPaths(t *testing.T) {
	root := t.TempDir()
	b, err := NewFilesystemBackend(filepath.Join(root, "store"))
	require.NoError(t, err)

	require.NoError(t, b.Write(context.Background(), "../../escape.json", []byte("x")))
	_, err = os.Stat(filepath.Join(root, "escape.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "store", "escape.json"))
	assert.NoError(t, err)

	_, err = NewFilesystemBackend("")
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisBackend(t *testing.T) {
	mr, client := setupTestRedis(t)
	b := NewRedisBackendWithClient(client, "test:")
	exerciseBackend(t, b)

	assert.True(t, mr.Exists("test:chain/0.json"))

	mr.SetError("server down")
	assert.Error(t, b.HealthCheck(context.Background()))
}

func TestNewRedisBackend_URL(t *testing.T) {
	mr, _ := setupTestRedis(t)
	b, err := NewRedisBackend("redis://"+mr.Addr(), "")
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, "securelog:replica:", b.prefix)

	_, err = NewRedisBackend("://bad", "")
	assert.Error(t, err)
}

// fakeS3 is an in-memory S3API.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func TestS3Backend(t *testing.T) {
	fake := newFakeS3()
	b := NewS3BackendWithClient(fake, "audit", "rover")
	exerciseBackend(t, b)

	_, ok := fake.objects["rover/chain/0.json"]
	assert.True(t, ok)
}

func TestNewFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.StorageConfig{
		ReplicationFactor: 2,
		Backends: []config.BackendConfig{
			{ID: "disk", Kind: KindFilesystem, Priority: 1, Path: filepath.Join(dir, "disk")},
			{ID: "ram", Kind: KindMemory, Priority: 0},
		},
	}
	m, err := NewFromConfig(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer m.Close()

	locs := m.Locations()
	require.Len(t, locs, 2)
	assert.Equal(t, "ram", locs[0].ID)
	assert.Equal(t, "disk", locs[1].ID)

	ok, written := m.WriteRedundant(context.Background(), "x", []byte("y"))
	assert.True(t, ok)
	assert.Equal(t, []string{"ram", "disk"}, written)

	cfg.Backends = append(cfg.Backends, config.BackendConfig{ID: "tape", Kind: "tape"})
	_, err = NewFromConfig(context.Background(), cfg, nil)
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}
