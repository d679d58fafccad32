package filestorage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cozy-creator/lineage-server/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

const presignExpiry = 7 * 24 * time.Hour

type S3FileStorage struct {
	client    *s3.Client
	presigner *s3.PresignClient
	cfg       *config.S3Config
	logger    *zap.Logger
}

func NewS3FileStorage(ctx context.Context, cfg *config.S3Config, logger *zap.Logger) (*S3FileStorage, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 config is not set")
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := []func(*awsConfig.LoadOptions) error{awsConfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		credentialsProvider := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, awsConfig.WithCredentialsProvider(credentialsProvider))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointUrl != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointUrl)
		}
	})

	return &S3FileStorage{
		client:    client,
		presigner: s3.NewPresignClient(client),
		cfg:       cfg,
		logger:    logger,
	}, nil
}

func (s *S3FileStorage) Save(ctx context.Context, content []byte, name, mimeType string) (*StoredFile, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if mimeType == "" {
		mimeType = mimetype.Detect(content).String()
	}

	key := s.key(name)
	input := s3.PutObjectInput{
		Key:         aws.String(key),
		ContentType: aws.String(mimeType),
		Bucket:      aws.String(s.cfg.Bucket),
		Body:        bytes.NewReader(content),
	}
	if s.publicURL(key) != "" {
		input.ACL = types.ObjectCannedACLPublicRead
	}

	if _, err := s.client.PutObject(ctx, &input); err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", name, err)
	}

	fileURL, err := s.GetFileURL(ctx, name)
	if err != nil {
		return nil, err
	}

	return &StoredFile{Name: name, URL: fileURL, Size: int64(len(content)), ModTime: time.Now().UTC()}, nil
}

func (s *S3FileStorage) Read(ctx context.Context, name string) ([]byte, error) {
	key := s.key(name)
	object, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: aws.String(key)})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		return nil, err
	}
	defer object.Body.Close()

	return io.ReadAll(object.Body)
}

func (s *S3FileStorage) Delete(ctx context.Context, name string) {
	key := s.key(name)
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: aws.String(key)}); err != nil {
		s.logger.Warn("failed to delete object", zap.String("key", key), zap.Error(err))
	}
}

func (s *S3FileStorage) Exists(ctx context.Context, name string) (bool, error) {
	key := s.key(name)
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: aws.String(key)}); err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

func (s *S3FileStorage) GetFileURL(ctx context.Context, name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	key := s.key(name)
	if url := s.publicURL(key); url != "" {
		return url, nil
	}

	// Providers such as Cloudflare R2 have no inferable public URL, so hand
	// out a time-limited one instead.
	request, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoPublicURL, err)
	}

	return request.URL, nil
}

func (s *S3FileStorage) List(ctx context.Context) ([]StoredFile, error) {
	prefix := s.key("")
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(prefix),
	})

	var files []StoredFile
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}

		for _, object := range page.Contents {
			if object.Key == nil {
				continue
			}

			name := strings.TrimPrefix(*object.Key, prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}

			file := StoredFile{Name: name}
			if object.Size != nil {
				file.Size = *object.Size
			}
			if object.LastModified != nil {
				file.ModTime = *object.LastModified
			}
			files = append(files, file)
		}
	}

	return files, nil
}

func (s *S3FileStorage) key(name string) string {
	if name == "" {
		folder := strings.Trim(s.cfg.Folder, "/")
		if folder == "" {
			return ""
		}
		return folder + "/"
	}

	return objectKey(s.cfg.Folder, name)
}

// publicURL returns "" when the provider's public URL cannot be inferred.
func (s *S3FileStorage) publicURL(key string) string {
	if s.cfg.VanityUrl != "" {
		vanityUrl := strings.TrimSuffix(s.cfg.VanityUrl, "/")
		return fmt.Sprintf("%s/%s", vanityUrl, key)
	}

	// Handle different S3-compatible storage providers
	switch {
	case strings.Contains(s.cfg.EndpointUrl, "digitaloceanspaces.com"):
		return fmt.Sprintf("https://%s.%s.cdn.digitaloceanspaces.com/%s", s.cfg.Bucket, s.cfg.Region, key)

	case strings.Contains(s.cfg.EndpointUrl, "amazonaws.com"):
		endpoint := strings.TrimPrefix(s.cfg.EndpointUrl, "https://")
		endpoint = strings.TrimSuffix(endpoint, "/")
		return fmt.Sprintf("https://%s.%s/%s", s.cfg.Bucket, endpoint, key)
	}

	return ""
}
