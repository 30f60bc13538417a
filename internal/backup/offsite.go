package backup

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/lmdudester/garcon/internal/apperrors"
)

// OffsiteConfig gates and credentials the offsite mirror (supplemented
// feature, not part of the original backup engine spec).
type OffsiteConfig struct {
	Enabled         bool
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// OffsiteMirror uploads backup archives to an S3-compatible bucket
// (Cloudflare R2), adapted from the teacher's R2 client. One-way: there is
// no restore-from-offsite path and no mirror-side retention.
type OffsiteMirror struct {
	uploader *manager.Uploader
	bucket   string
	log      zerolog.Logger
}

// NewOffsiteMirror constructs a mirror from cfg, or returns (nil, nil) when
// offsite mirroring is disabled.
func NewOffsiteMirror(ctx context.Context, cfg OffsiteConfig, log zerolog.Logger) (*OffsiteMirror, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	endpoint := "https://" + cfg.AccountID + ".r2.cloudflarestorage.com"

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "load aws config for offsite mirror", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &OffsiteMirror{
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		log:      log.With().Str("component", "offsite_mirror").Logger(),
	}, nil
}

// Upload streams rec's archive file to the configured bucket under key
// "<server_id>/<filename>" (design SPEC_FULL.md "Supplemented feature:
// offsite backup mirror").
func (m *OffsiteMirror) Upload(ctx context.Context, rec Record) error {
	f, err := os.Open(rec.Path)
	if err != nil {
		return apperrors.Wrap(apperrors.FileSystem, "open backup for offsite upload", err)
	}
	defer f.Close()

	key := rec.ServerID + "/" + rec.Filename
	_, err = m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "upload "+key+" to offsite mirror", err)
	}

	m.log.Debug().Str("key", key).Msg("offsite mirror upload complete")
	return nil
}
