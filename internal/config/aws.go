package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// AWSConfig builds the SDK configuration shared by the RDS and S3 clients.
// Static keys are used when given, otherwise the default credential chain.
func (c Config) AWSConfig(ctx context.Context) (aws.Config, error) {
	cfgFuncs := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(c.AWSRegion),
	}

	if c.AWSAccessKeyID != "" && c.AWSSecretAccessKey != "" {
		cfgFuncs = append(cfgFuncs, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AWSAccessKeyID, c.AWSSecretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgFuncs...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return cfg, nil
}
