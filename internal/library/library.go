// Package library exposes the image library that enrichment runs are
// fed from. The backing store is an S3 bucket (or any S3-compatible
// endpoint); listing walks the configured prefix and downloads pull the
// full object body for decoding.
package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hbomb79/Iris/pkg/logger"
)

var log = logger.Get("Library")

// ErrNotFound is returned by Download when the referenced object no
// longer exists in the bucket.
var ErrNotFound = errors.New("file does not exist in library")

type Config struct {
	Bucket   string `yaml:"bucket" env:"LIBRARY_BUCKET" validate:"required"`
	Prefix   string `yaml:"prefix" env:"LIBRARY_PREFIX"`
	Region   string `yaml:"region" env:"LIBRARY_REGION" env-default:"us-east-1"`
	Endpoint string `yaml:"endpoint" env:"LIBRARY_ENDPOINT"`

	// MaxFileBytes bounds the size of any single download. Objects
	// larger than this are listed but refused by Download.
	MaxFileBytes int64 `yaml:"max_file_bytes" env:"LIBRARY_MAX_FILE_BYTES" env-default:"52428800"`
}

// FileRef identifies one image in the library. ID is the object key,
// which is stable for the lifetime of the object and doubles as the
// identifier the metadata store is keyed on.
type FileRef struct {
	ID         string
	Name       string
	Path       string
	Size       int64
	UploadedAt time.Time
}

type (
	// Source is the narrow view of the library that the enrichment
	// pipeline consumes.
	Source interface {
		ListFiles(ctx context.Context) ([]FileRef, error)
		Download(ctx context.Context, ref FileRef) ([]byte, error)
	}

	// ObjectStorageAPI is the slice of the S3 client the source needs;
	// tests substitute a stub.
	ObjectStorageAPI interface {
		s3.ListObjectsV2APIClient
		GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	}

	s3Source struct {
		client ObjectStorageAPI
		config Config
	}
)

// New constructs a Source against the configured bucket, resolving AWS
// credentials from the default chain. A non-empty Endpoint redirects
// the client at an S3-compatible server.
func New(ctx context.Context, config Config) (Source, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(config.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(options *s3.Options) {
		if config.Endpoint != "" {
			options.BaseEndpoint = aws.String(config.Endpoint)
			options.UsePathStyle = true
		}
	})

	return NewWithClient(client, config), nil
}

// NewWithClient constructs a Source over an existing S3 client.
func NewWithClient(client ObjectStorageAPI, config Config) Source {
	return &s3Source{client: client, config: config}
}

func (source *s3Source) ListFiles(ctx context.Context) ([]FileRef, error) {
	var refs []FileRef

	paginator := s3.NewListObjectsV2Paginator(source.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(source.config.Bucket),
		Prefix: aws.String(source.config.Prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list library bucket %s: %w", source.config.Bucket, err)
		}

		for _, object := range page.Contents {
			if object.Key == nil {
				continue
			}

			key := *object.Key
			if key == "" || key[len(key)-1] == '/' {
				// Directory placeholder objects carry no image data.
				continue
			}

			ref := FileRef{
				ID:   key,
				Name: path.Base(key),
				Path: path.Dir(key),
			}
			if object.Size != nil {
				ref.Size = *object.Size
			}
			if object.LastModified != nil {
				ref.UploadedAt = object.LastModified.UTC()
			}

			refs = append(refs, ref)
		}
	}

	log.Emit(logger.DEBUG, "Listed %d files under s3://%s/%s\n", len(refs), source.config.Bucket, source.config.Prefix)
	return refs, nil
}

func (source *s3Source) Download(ctx context.Context, ref FileRef) ([]byte, error) {
	if source.config.MaxFileBytes > 0 && ref.Size > source.config.MaxFileBytes {
		return nil, fmt.Errorf("file %s is %d bytes which exceeds the %d byte download limit", ref.ID, ref.Size, source.config.MaxFileBytes)
	}

	output, err := source.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(source.config.Bucket),
		Key:    aws.String(ref.ID),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to download %s: %w", ref.ID, err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", ref.ID, err)
	}

	return data, nil
}
