package aws_s3

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ahmedxxzz/doctoralia-scraper/config"
	"github.com/ahmedxxzz/doctoralia-scraper/internal"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/model"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	jsoniter "github.com/json-iterator/go"
)

// S3Sink writes one JSON object per record, partitioned by category and
// location so downstream jobs can read a single specialty or city without
// listing the whole bucket.
type S3Sink struct {
	client *s3.Client
	cfg    *config.Config
}

func NewS3Sink(cfg *config.Config) *S3Sink {
	slog.Info("connecting to s3...")

	c, err := connect(cfg)
	if err != nil {
		slog.Error("failed to connect to s3.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return &S3Sink{
		client: c,
		cfg:    cfg,
	}
}

func (s *S3Sink) Write(rec *model.Record) error {
	s3Key := fmt.Sprintf("%s/%s/%s/%s.json", s.cfg.S3Settings.KeyPrefix, rec.Category, rec.Location,
		internal.HashURL(string(rec.SourceReference)))
	body, err := jsoniter.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: &s.cfg.S3Settings.BucketName,
		Key:    &s3Key,
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("save record to s3: %w", err)
	}
	slog.Debug("record saved to s3.", slog.String("key", s3Key))
	return nil
}

func (s *S3Sink) Close() error {
	return nil
}

func connect(cfg *config.Config) (*s3.Client, error) {
	s3Config, err := awsCfg.LoadDefaultConfig(context.Background(), awsCfg.WithRegion(cfg.S3Settings.Region))
	if err != nil {
		slog.Error("failed to load s3 config.", slog.String("err", err.Error()))
		return nil, err
	}

	if cfg.Env == "local" {
		s3Config.BaseEndpoint = &cfg.S3Settings.AwsBaseEndpoint // for LocalStack
		s3Config.Credentials = crd.NewStaticCredentialsProvider("test", "test", "")
		// LocalStack does not support `virtual host addressing style` that uses s3 by default.
		// For test purposes use configuration with disabled 'virtual hosted bucket addressing'.
		// Set 'local' Env variable to use this configuration.
		slog.Warn("test configuration for S3")
		return s3.NewFromConfig(s3Config, func(o *s3.Options) {
			o.UsePathStyle = true
		}), nil
	}

	return s3.NewFromConfig(s3Config), nil
}
