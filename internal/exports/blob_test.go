package exports

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

type fakePresigner struct{ err error }

func (f fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &v4.PresignedHTTPRequest{URL: "https://signed.example/" + aws.ToString(in.Key)}, nil
}

func TestS3BlobStorePut(t *testing.T) {
	client := &fakeS3{}
	store := NewS3BlobStore(client, fakePresigner{}, "hms-exports", nil)

	link, err := store.Put(context.Background(), "exports/p/h.csv", "text/csv", []byte("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/exports/p/h.csv", link)
	assert.Equal(t, "hms-exports", aws.ToString(client.input.Bucket))
	assert.Equal(t, s3types.ServerSideEncryptionAes256, client.input.ServerSideEncryption)
	assert.Equal(t, "a,b\n", string(client.body))
}

func TestS3BlobStoreFallbacks(t *testing.T) {
	store := NewS3BlobStore(&fakeS3{}, nil, "hms-exports", nil)
	link, err := store.Put(context.Background(), "k.csv", "text/csv", nil)
	require.NoError(t, err)
	assert.Equal(t, "s3://hms-exports/k.csv", link)

	store = NewS3BlobStore(&fakeS3{}, fakePresigner{err: errors.New("no creds")}, "hms-exports", nil)
	link, err = store.Put(context.Background(), "k.csv", "text/csv", nil)
	require.NoError(t, err)
	assert.Equal(t, "s3://hms-exports/k.csv", link)

	store = NewS3BlobStore(&fakeS3{err: errors.New("denied")}, nil, "hms-exports", nil)
	_, err = store.Put(context.Background(), "k.csv", "text/csv", nil)
	assert.ErrorContains(t, err, "denied")
}

func TestMemoryBlobStore(t *testing.T) {
	store := NewMemoryBlobStore()
	link, err := store.Put(context.Background(), "k", "text/plain", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "memory://k", link)
	body, ok := store.Object("k")
	require.True(t, ok)
	assert.Equal(t, "x", string(body))
}
