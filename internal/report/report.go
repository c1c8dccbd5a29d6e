// Package report turns a completed Supervisor run into a durable JSON
// record and, when configured, archives it to an S3-compatible bucket.
// Upload failure is logged and never changes the run's own exit code —
// the report is an audit trail, not part of the transfer's success
// criteria.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/opsmesh/transferctl/internal/transfer"
)

// Config selects where completed reports are archived. Bucket empty
// means local-only: Marshal still works, Archive is a no-op.
//
// AccessKeyID/SecretAccessKey are optional. Leaving them empty falls
// back to the default AWS credential chain (env vars, shared config
// file, or an IAM role) — the static pair is only for environments
// that keep S3 credentials outside that chain, e.g. a secrets file
// dropped alongside transferd.yaml.
type Config struct {
	S3Bucket        string
	S3Prefix        string
	S3Region        string
	AccessKeyID     string
	SecretAccessKey string
}

// Reporter marshals RunReports and optionally ships them to S3.
type Reporter struct {
	cfg    Config
	client *s3.Client
	logger *slog.Logger
}

// New builds a Reporter. If cfg.S3Bucket is empty, the returned Reporter
// never dials AWS — Archive becomes a no-op. Otherwise it loads the
// default AWS credential chain the same way the aws-sdk-go-v2 examples
// in the pack do (env vars, shared config, or IAM role).
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Reporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reporter{cfg: cfg, logger: logger}
	if cfg.S3Bucket == "" {
		return r, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for run reporter: %w", err)
	}
	r.client = s3.NewFromConfig(awsCfg)
	return r, nil
}

// Marshal renders report as indented JSON.
func Marshal(report transfer.RunReport) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}

// Archive uploads a marshaled report under a timestamped key derived
// from runID. A nil client (no bucket configured) is a no-op returning
// nil. Upload failure is wrapped as a CleanupError-class condition —
// callers log it and move on rather than fail the run over it.
func (r *Reporter) Archive(ctx context.Context, runID string, report transfer.RunReport) error {
	if r.client == nil {
		return nil
	}

	data, err := Marshal(report)
	if err != nil {
		return transfer.NewError(transfer.KindCleanup, fmt.Errorf("marshaling run report: %w", err))
	}

	key := fmt.Sprintf("%srun-%s-%s-%s.json", r.cfg.S3Prefix, report.SourceHost, runID, report.StartedAt.UTC().Format("20060102T150405Z"))
	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.cfg.S3Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return transfer.NewError(transfer.KindCleanup, fmt.Errorf("uploading run report to s3://%s/%s: %w", r.cfg.S3Bucket, key, err))
	}

	r.logger.Info("run report archived", "bucket", r.cfg.S3Bucket, "key", key)
	return nil
}
