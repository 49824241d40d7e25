package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	puts     int
	putError error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(params.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putError != nil {
		return nil, f.putError
	}
	payload, _ := io.ReadAll(params.Body)
	f.objects[aws.ToString(params.Key)] = payload
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(payload))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(params.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	output := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, key := range keys {
		output.Contents = append(output.Contents, types.Object{Key: aws.String(key)})
	}
	return output, nil
}

func TestS3FolderPrefixesAndUploads(t *testing.T) {
	fake := newFakeS3()
	gateway := newS3WithClient(fake, S3Config{Bucket: "fuel", Tokens: staticTokens()})
	ctx := context.Background()

	rootID, err := gateway.EnsureFolder(ctx, "Bike Mileage (App)", "")
	require.NoError(t, err)
	assert.Equal(t, "Bike Mileage (App)/", rootID)
	again, err := gateway.EnsureFolder(ctx, "Bike Mileage (App)", "")
	require.NoError(t, err)
	assert.Equal(t, rootID, again)
	assert.Equal(t, 1, fake.puts)

	dataID, err := gateway.EnsureFolder(ctx, "data", rootID)
	require.NoError(t, err)
	assert.Equal(t, "Bike Mileage (App)/data/", dataID)

	first, err := gateway.UploadBlob(ctx, dataID, "entry-1.json", []byte(`{"v":1}`), ContentTypeJSON)
	require.NoError(t, err)
	second, err := gateway.UploadBlob(ctx, dataID, "entry-1.json", []byte(`{"v":2}`), ContentTypeJSON)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "every upload must create a new object")
	assert.True(t, strings.HasPrefix(first.ID, dataID))
	assert.Equal(t, "entry-1.json", first.Name)

	listed, err := gateway.ListJSONObjects(ctx, dataID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
	for _, object := range listed {
		assert.Equal(t, "entry-1.json", object.Name)
	}

	payload, err := gateway.DownloadObject(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(payload))
}

func TestS3ClassifiesErrors(t *testing.T) {
	fake := newFakeS3()
	gateway := newS3WithClient(fake, S3Config{Bucket: "fuel", Tokens: staticTokens()})

	_, err := gateway.DownloadObject(context.Background(), "missing.json")
	status, rejected := IsRemoteRejected(err)
	require.True(t, rejected)
	assert.Equal(t, http.StatusNotFound, status)

	fake.putError = &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusForbidden}},
			Err:      errors.New("access denied"),
		},
	}
	_, err = gateway.UploadBlob(context.Background(), "data/", "a.json", []byte("{}"), ContentTypeJSON)
	status, rejected = IsRemoteRejected(err)
	require.True(t, rejected, "expected rejection, got %v", err)
	assert.Equal(t, http.StatusForbidden, status)

	fake.putError = errors.New("dial tcp: connection refused")
	_, err = gateway.UploadBlob(context.Background(), "data/", "a.json", []byte("{}"), ContentTypeJSON)
	assert.True(t, IsNetworkFailure(err))
}

func TestS3RequiresCapability(t *testing.T) {
	fake := newFakeS3()
	gateway := newS3WithClient(fake, S3Config{Bucket: "fuel"})

	_, err := gateway.EnsureFolder(context.Background(), "data", "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Zero(t, fake.puts)
}
