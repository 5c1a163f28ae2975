// Package s3util holds the S3 calls used to keep analysed images: upload
// under a per-user key and hand out presigned download URLs.
package s3util

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// DefaultURLExpiry is how long a presigned image URL stays valid.
const DefaultURLExpiry = 7 * 24 * time.Hour

// PutAPI is the subset of *s3.Client used for uploads.
type PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// PresignAPI is the subset of *s3.PresignClient used for download URLs.
type PresignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ImageKey builds the object key images/{userID}/{unixMillis}_{fileName}.
func ImageKey(userID, fileName string, at time.Time) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "image"
	}
	return fmt.Sprintf("images/%s/%d_%s", userID, at.UnixMilli(), name)
}

// Upload stores data at key with the project cost-allocation tag.
func Upload(ctx context.Context, client PutAPI, bucket, key, contentType string, data []byte) error {
	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int("size_bytes", len(data)).
		Msg("Uploading to S3")

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
		Tagging:     ProjectTagging(),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}

	log.Info().Str("key", key).Msg("Image uploaded to S3")
	return nil
}

// GeneratePresignedURL creates a pre-signed GET URL for an S3 object.
func GeneratePresignedURL(ctx context.Context, presignClient PresignAPI, bucket, key string, expiry time.Duration) (string, error) {
	result, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return result.URL, nil
}
