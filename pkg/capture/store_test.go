package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, s Store) []Record {
	t.Helper()
	var out []Record
	require.NoError(t, s.Iterate(context.Background(), func(r Record) error {
		out = append(out, r)
		return nil
	}))
	return out
}

// storeContract runs the behaviour every Store must provide.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	records := sampleRecords(10)

	require.NoError(t, s.Append(ctx, records[:4]))
	require.NoError(t, s.Append(ctx, records[4:]))
	assert.Equal(t, records, collect(t, s))

	stop := errors.New("stop")
	seen := 0
	err := s.Iterate(ctx, func(Record) error {
		seen++
		if seen == 3 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 3, seen)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, s.Append(cancelled, records[:1]))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	storeContract(t, s)
	assert.Equal(t, 10, s.Len())
	assert.Equal(t, "memory", s.Name())
}

func TestBadgerStore(t *testing.T) {
	s, err := NewBadgerStore(BadgerStoreConfig{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	storeContract(t, s)
	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBadgerStore(BadgerStoreConfig{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), sampleRecords(3)))
	require.NoError(t, s.Close())

	s, err = NewBadgerStore(BadgerStoreConfig{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, sampleRecords(3), collect(t, s))
}

func TestBadgerStore_RequiresPath(t *testing.T) {
	_, err := NewBadgerStore(BadgerStoreConfig{})
	assert.Error(t, err)
}

// fakeS3 is an in-memory S3Client.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

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

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if bytes.HasPrefix([]byte(k), []byte(aws.ToString(in.Prefix))) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3Store(t *testing.T) {
	client := newFakeS3()
	s, err := NewS3Store(S3StoreConfig{Client: client, Bucket: "captures", KeyPrefix: "run-1/"})
	require.NoError(t, err)

	storeContract(t, s)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Len(t, client.objects, 2, "one object per batch")
	for key := range client.objects {
		assert.Regexp(t, `^run-1/2023/11/14/\d{20}-\d{20}\.xdr\.zst$`, key)
	}
}

func TestS3Store_SkipsForeignObjects(t *testing.T) {
	client := newFakeS3()
	client.objects["run-1/README"] = []byte("hello")
	s, err := NewS3Store(S3StoreConfig{Client: client, Bucket: "captures", KeyPrefix: "run-1/"})
	require.NoError(t, err)

	require.NoError(t, s.Append(context.Background(), sampleRecords(2)))
	assert.Len(t, collect(t, s), 2)
}

func TestNewS3Store_Validates(t *testing.T) {
	_, err := NewS3Store(S3StoreConfig{Bucket: "b"})
	assert.Error(t, err)
	_, err = NewS3Store(S3StoreConfig{Client: newFakeS3()})
	assert.Error(t, err)
}
