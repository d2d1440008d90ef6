package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
	failPut bool
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut {
		return nil, errors.New("access denied")
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = b
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	s := NewS3Store(fake, "avatars", nil)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "profile-images/a.png", "image/png", strings.NewReader("png")))
	assert.Equal(t, []byte("png"), fake.objects["avatars/profile-images/a.png"])
	assert.Equal(t, "image/png", fake.types["profile-images/a.png"])

	require.NoError(t, s.Delete(ctx, "profile-images/a.png"))
	assert.Empty(t, fake.objects)

	fake.failPut = true
	assert.Error(t, s.Put(ctx, "profile-images/b.png", "image/png", strings.NewReader("png")))
}

func TestDirStore(t *testing.T) {
	root := t.TempDir()
	d, err := NewDirStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, d.Put(ctx, "profile-images/a.jpg", "image/jpeg", strings.NewReader("jpg")))
	b, err := os.ReadFile(filepath.Join(root, "profile-images", "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpg", string(b))

	require.NoError(t, d.Delete(ctx, "profile-images/a.jpg"))
	require.NoError(t, d.Delete(ctx, "profile-images/a.jpg"))

	assert.Error(t, d.Put(ctx, "../escape.jpg", "image/jpeg", strings.NewReader("x")))
}
