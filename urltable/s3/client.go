package s3

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds configuration for creating an S3 client.
type ClientConfig struct {
	// Region is the AWS region (required). Use "auto" for Cloudflare R2.
	Region string

	// Endpoint is an optional custom endpoint URL for S3-compatible services,
	// for example "http://localhost:9000" for MinIO.
	Endpoint string

	// UsePathStyle enables path-style addressing. MinIO and LocalStack need it
	// in their default configuration.
	UsePathStyle bool

	// AccessKeyID and SecretAccessKey select static credentials. When both
	// are empty and Credentials is nil, the default credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// Credentials overrides AccessKeyID and SecretAccessKey.
	Credentials aws.CredentialsProvider
}

func (c ClientConfig) credentials() aws.CredentialsProvider {
	if c.Credentials != nil {
		return c.Credentials
	}
	if c.AccessKeyID != "" || c.SecretAccessKey != "" {
		return credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, "")
	}
	return nil
}

// NewClient creates an S3 client with the given configuration.
//
// For MinIO:
//
//	client, err := s3.NewClient(ctx, s3.ClientConfig{
//	    Region:          "us-east-1",
//	    Endpoint:        "http://localhost:9000",
//	    UsePathStyle:    true,
//	    AccessKeyID:     "minioadmin",
//	    SecretAccessKey: "minioadmin",
//	})
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if creds := cfg.credentials(); creds != nil {
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}
