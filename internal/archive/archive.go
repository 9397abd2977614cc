// Package archive uploads the finished chat history file to S3 at the end
// of a run, so a stream's chat survives past the process without changing
// the live replay semantics (the log is still reset on every start).
package archive

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Archiver uploads a single history file to S3.
type Archiver struct {
	s3Client   *s3.Client
	bucket     string
	maxRetries int
}

// Options selects the authentication method. RoleARN takes precedence
// over static credentials; with neither, the default chain applies.
type Options struct {
	Bucket          string
	Region          string
	RoleARN         string
	AccessKeyID     string
	SecretAccessKey string
	MaxRetries      int
}

// New creates an archiver for the given bucket.
func New(ctx context.Context, opts Options) (*Archiver, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.RoleARN == "" && opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	if opts.RoleARN != "" {
		stsClient := sts.NewFromConfig(cfg)
		cfg.Credentials = aws.NewCredentialsCache(
			stscreds.NewAssumeRoleProvider(stsClient, opts.RoleARN),
		)
	}

	return &Archiver{
		s3Client:   s3.NewFromConfig(cfg),
		bucket:     opts.Bucket,
		maxRetries: opts.MaxRetries,
	}, nil
}

// Store uploads the file at localPath, retrying with exponential backoff
// up to maxRetries.
func (a *Archiver) Store(ctx context.Context, localPath string) error {
	key := archiveKey(time.Now().UTC(), filepath.Base(localPath))

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		lastErr = a.putFile(ctx, localPath, key)
		if lastErr == nil {
			log.Printf("Archived %s to s3://%s/%s", localPath, a.bucket, key)
			return nil
		}

		if attempt < a.maxRetries {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			log.Printf("Archive attempt %d/%d failed: %v. Retrying in %v",
				attempt+1, a.maxRetries, lastErr, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("archive %s after %d attempts: %w", localPath, a.maxRetries, lastErr)
}

// putFile uploads a single file to S3.
func (a *Archiver) putFile(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}

	return nil
}

// archiveKey partitions uploads by date:
// 2026/08/29/20260829_2130_messages.jsonl
func archiveKey(t time.Time, filename string) string {
	return fmt.Sprintf("%04d/%02d/%02d/%s_%s",
		t.Year(), t.Month(), t.Day(), t.Format("20060102_1504"), filename)
}
