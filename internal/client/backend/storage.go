package backend

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in)
	}
)

// S3AvatarStore uploads avatar images to the backend's S3-compatible
// object storage. Every user has one fixed key; a new upload overwrites
// the previous avatar.
type S3AvatarStore struct {
	bucket       string
	baseEndpoint string
	region       string
	accessKey    string
	secretKey    string
}

func NewS3AvatarStore(bucket, baseEndpoint, region, accessKey, secretKey string) *S3AvatarStore {
	return &S3AvatarStore{
		bucket:       bucket,
		baseEndpoint: strings.TrimSuffix(baseEndpoint, "/"),
		region:       region,
		accessKey:    accessKey,
		secretKey:    secretKey,
	}
}

// AvatarKey returns the fixed per-user storage key.
func AvatarKey(userID, ext string) string {
	return fmt.Sprintf("avatars/%s/avatar.%s", userID, ext)
}

func (s *S3AvatarStore) getClient(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(s.region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.accessKey,
			s.secretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.baseEndpoint)
		o.UsePathStyle = true
	})
	return client, nil
}

// UploadAvatar writes data to the user's avatar key, overwriting any prior
// object, and returns the public URL of the uploaded object.
func (s *S3AvatarStore) UploadAvatar(ctx context.Context, userID, ext string, data []byte) (string, error) {
	client, err := s.getClient(ctx)
	if err != nil {
		return "", fmt.Errorf("storage client: %w", err)
	}

	key := AvatarKey(userID, ext)
	contentType := mime.TypeByExtension("." + ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}

	return fmt.Sprintf("%s/%s/%s", s.baseEndpoint, s.bucket, key), nil
}
