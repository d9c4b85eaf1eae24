// Package s3 writes one object per flush to Amazon S3 or an S3-compatible
// store such as MinIO.
package s3

import (
	"bytes"
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/pkg/connector/base"
	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/connector/registry"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
)

func init() {
	_ = registry.RegisterDestination(models.DestinationS3, New)
}

const (
	uploadPartSize    = 10 * 1024 * 1024
	uploadConcurrency = 5
)

// S3Destination uploads serialized batches with the multipart uploader.
type S3Destination struct {
	*base.BaseConnector

	cfg        models.S3Config
	serializer *base.Serializer

	client   *s3.Client
	uploader *manager.Uploader
}

// New creates an S3 destination.
func New(cfg core.Config) (core.Connector, error) {
	return NewS3Destination(cfg)
}

// NewS3Destination creates an S3 destination and resolves its serializer.
func NewS3Destination(cfg core.Config) (*S3Destination, error) {
	if cfg.Destination.S3 == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "S3 configuration is required")
	}
	s3cfg := *cfg.Destination.S3

	serializer, err := base.NewSerializer(cfg, s3cfg.Prefix, nil)
	if err != nil {
		return nil, err
	}

	return &S3Destination{
		BaseConnector: base.NewBaseConnector(cfg),
		cfg:           s3cfg,
		serializer:    serializer,
	}, nil
}

// Serializer exposes the payload builder so tests can pin the clock.
func (d *S3Destination) Serializer() *base.Serializer {
	return d.serializer
}

// Connect builds the S3 client. Static keys take precedence over the
// default chain; a role ARN is assumed on top of whichever applies.
func (d *S3Destination) Connect(ctx context.Context) error {
	if d.IsConnected() {
		return nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(d.cfg.Region)}
	if d.cfg.AccessKeyID != "" && d.cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(d.cfg.AccessKeyID, d.cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}
	if d.cfg.RoleARN != "" {
		awsCfg.Credentials = aws.NewCredentialsCache(
			stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsCfg), d.cfg.RoleARN))
	}

	d.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if d.cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(d.cfg.EndpointURL)
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	d.uploader = manager.NewUploader(d.client, func(u *manager.Uploader) {
		u.PartSize = uploadPartSize
		u.Concurrency = uploadConcurrency
	})

	d.SetConnected(true)
	d.Logger().Info("connected to S3",
		zap.String("bucket", d.cfg.Bucket),
		zap.String("region", d.cfg.Region),
		zap.String("endpoint", d.cfg.EndpointURL))
	return nil
}

// Disconnect drops the client.
func (d *S3Destination) Disconnect(ctx context.Context) error {
	d.client = nil
	d.uploader = nil
	d.SetConnected(false)
	return nil
}

// Send uploads events as a single object.
func (d *S3Destination) Send(ctx context.Context, events []*models.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if err := d.EnsureConnected(ctx, d.Connect); err != nil {
		return 0, err
	}

	payload, err := d.serializer.Build(events)
	if err != nil {
		return 0, err
	}

	cfg := d.Config()
	format, codec, _ := cfg.Destination.ObjectStoreFormat()
	start := time.Now()
	_, err = d.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.cfg.Bucket),
		Key:         aws.String(payload.Key),
		Body:        bytes.NewReader(payload.Body),
		ContentType: aws.String(payload.ContentType),
		Metadata: map[string]string{
			"records":     strconv.Itoa(payload.Rows),
			"format":      string(format),
			"compression": string(codec),
		},
	})
	d.RecordSend(start, err)
	if err != nil {
		return 0, base.Classify(err, "failed to upload to S3")
	}

	d.Logger().Info("batch uploaded to S3",
		zap.String("key", payload.Key),
		zap.Int("records", payload.Rows),
		zap.Int("bytes", len(payload.Body)),
		zap.Duration("duration", time.Since(start)))
	return len(events), nil
}

// TestConnection checks bucket access with HeadBucket.
func (d *S3Destination) TestConnection(ctx context.Context) *models.TestConnectionResult {
	return base.CheckConnection(ctx, d, func(ctx context.Context) (map[string]interface{}, error) {
		if _, err := d.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(d.cfg.Bucket)}); err != nil {
			return nil, base.Classify(err, "bucket not accessible")
		}
		return map[string]interface{}{
			"bucket": d.cfg.Bucket,
			"region": d.cfg.Region,
		}, nil
	})
}
