package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/codebuildervaibhav/voice-id/internal/config"
)

// S3Archive stores clips in an S3 (or S3-compatible) bucket under
// <prefix>/<speaker>/<timestamp>_<uuid><ext>.
type S3Archive struct {
	client *awss3.Client
	bucket string
	prefix string
}

// NewS3Archive loads AWS credentials from the default chain.
func NewS3Archive(ctx context.Context, cfg config.ArchiveConfig) (*S3Archive, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var s3Opts []func(*awss3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Archive{
		client: awss3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Save uploads the clip and returns its object key.
func (a *S3Archive) Save(ctx context.Context, speakerID, filename string, data []byte) (string, error) {
	key := joinKey(a.prefix, speakerSegment(speakerID), clipName(time.Now(), filename))
	_, err := a.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("archive: s3 upload: %w", err)
	}
	return key, nil
}

// DeleteSpeaker removes every object under the speaker's prefix, a page at a time.
func (a *S3Archive) DeleteSpeaker(ctx context.Context, speakerID string) error {
	input := &awss3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(joinKey(a.prefix, speakerSegment(speakerID)) + "/"),
	}

	for {
		out, err := a.client.ListObjectsV2(ctx, input)
		if err != nil {
			return fmt.Errorf("archive: s3 list: %w", err)
		}

		if len(out.Contents) > 0 {
			objects := make([]s3types.ObjectIdentifier, 0, len(out.Contents))
			for _, obj := range out.Contents {
				objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
			}
			_, err := a.client.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
				Bucket: aws.String(a.bucket),
				Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return fmt.Errorf("archive: s3 delete: %w", err)
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			return nil
		}
		input.ContinuationToken = out.NextContinuationToken
	}
}
