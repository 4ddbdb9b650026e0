package textstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoscut/tiffpress/internal/config"
)

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func TestKey(t *testing.T) {
	assert.Equal(t, "ocr/12345/0001.txt", Key("ocr/", "12345", "/data/12345/master/0001.tiff"))
	assert.Equal(t, "12345/page.txt", Key("", "12345", "page.TIF"))
}

func TestS3SinkPut(t *testing.T) {
	client := &fakeS3{}
	sink := NewS3Sink(client, "ocr-bucket")

	require.NoError(t, sink.Put(context.Background(), "12345/0001.txt", "hello world"))
	require.Len(t, client.inputs, 1)

	in := client.inputs[0]
	assert.Equal(t, "ocr-bucket", aws.ToString(in.Bucket))
	assert.Equal(t, "12345/0001.txt", aws.ToString(in.Key))
	assert.Contains(t, aws.ToString(in.ContentType), "text/plain")
	assert.Equal(t, "hello world", client.bodies[0])
}

func TestS3SinkError(t *testing.T) {
	sink := NewS3Sink(&fakeS3{err: errors.New("denied")}, "b")
	err := sink.Put(context.Background(), "k.txt", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://b/k.txt")
}

func TestDirSink(t *testing.T) {
	dir := t.TempDir()
	sink := &DirSink{Dir: dir}

	require.NoError(t, sink.Put(context.Background(), "12345/0001.txt", "page one"))
	data, err := os.ReadFile(filepath.Join(dir, "12345", "0001.txt"))
	require.NoError(t, err)
	assert.Equal(t, "page one", string(data))

	assert.Error(t, sink.Put(context.Background(), "../outside.txt", "x"))
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	sink, err := New(ctx, config.TextConfig{}, config.AWSConfig{})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, sink)

	sink, err = New(ctx, config.TextConfig{Sink: "filesystem", Directory: t.TempDir()}, config.AWSConfig{})
	require.NoError(t, err)
	assert.IsType(t, &DirSink{}, sink)

	_, err = New(ctx, config.TextConfig{Sink: "filesystem"}, config.AWSConfig{})
	assert.Error(t, err)

	_, err = New(ctx, config.TextConfig{Sink: "s3"}, config.AWSConfig{})
	assert.Error(t, err)

	_, err = New(ctx, config.TextConfig{Sink: "ftp"}, config.AWSConfig{})
	assert.Error(t, err)
}
