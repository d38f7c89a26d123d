package library_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hbomb79/Iris/internal/library"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockObjectStorage struct{ mock.Mock }

func (m *mockObjectStorage) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*s3.ListObjectsV2Output), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockObjectStorage) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*s3.GetObjectOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func Test_ListFiles_PaginatesAndSkipsPlaceholders(t *testing.T) {
	t.Parallel()

	uploaded := time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC)
	client := new(mockObjectStorage)
	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(input *s3.ListObjectsV2Input) bool {
		return input.ContinuationToken == nil
	})).Return(&s3.ListObjectsV2Output{
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("token"),
		Contents: []types.Object{
			{Key: aws.String("photos/events/"), Size: aws.Int64(0)},
			{Key: aws.String("photos/events/opening_night.jpg"), Size: aws.Int64(2048), LastModified: aws.Time(uploaded)},
		},
	}, nil).Once()
	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(input *s3.ListObjectsV2Input) bool {
		return input.ContinuationToken != nil && *input.ContinuationToken == "token"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("photos/studio/sculpture.tif"), Size: aws.Int64(4096), LastModified: aws.Time(uploaded)},
		},
	}, nil).Once()

	source := library.NewWithClient(client, library.Config{Bucket: "assets", Prefix: "photos/"})
	refs, err := source.ListFiles(context.Background())

	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "photos/events/opening_night.jpg", refs[0].ID)
	assert.Equal(t, "opening_night.jpg", refs[0].Name)
	assert.Equal(t, "photos/events", refs[0].Path)
	assert.Equal(t, int64(2048), refs[0].Size)
	assert.Equal(t, uploaded, refs[0].UploadedAt)
	assert.Equal(t, "sculpture.tif", refs[1].Name)
	client.AssertExpectations(t)
}

func Test_Download_ReturnsBody(t *testing.T) {
	t.Parallel()

	client := new(mockObjectStorage)
	client.On("GetObject", mock.Anything, mock.MatchedBy(func(input *s3.GetObjectInput) bool {
		return *input.Bucket == "assets" && *input.Key == "photos/a.jpg"
	})).Return(&s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader([]byte("image-bytes"))),
	}, nil).Once()

	source := library.NewWithClient(client, library.Config{Bucket: "assets"})
	data, err := source.Download(context.Background(), library.FileRef{ID: "photos/a.jpg", Size: 11})

	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), data)
	client.AssertExpectations(t)
}

func Test_Download_MissingObjectIsNotFound(t *testing.T) {
	t.Parallel()

	client := new(mockObjectStorage)
	client.On("GetObject", mock.Anything, mock.Anything).Return(nil, &types.NoSuchKey{}).Once()

	source := library.NewWithClient(client, library.Config{Bucket: "assets"})
	_, err := source.Download(context.Background(), library.FileRef{ID: "gone.jpg"})

	assert.ErrorIs(t, err, library.ErrNotFound)
}

func Test_Download_RefusesOversizeFile(t *testing.T) {
	t.Parallel()

	client := new(mockObjectStorage)
	source := library.NewWithClient(client, library.Config{Bucket: "assets", MaxFileBytes: 1024})

	_, err := source.Download(context.Background(), library.FileRef{ID: "huge.tif", Size: 4096})

	assert.Error(t, err)
	client.AssertNotCalled(t, "GetObject")
}
