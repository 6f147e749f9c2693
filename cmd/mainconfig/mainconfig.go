package mainconfig

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	appconfig "github.com/wolfman30/leadflow-ai/internal/config"
)

// LoadAWSConfig centralizes AWS SDK initialization so the Bedrock, SQS and
// SES clients share the same LocalStack/production wiring. The HTTP client
// timeout is kept above the LLM timeout so the per-call deadline fires first.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	httpTimeout := cfg.LLMTimeout + 5*time.Second
	loaders := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.AWSRegion),
		config.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(httpTimeout)),
	}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, err
	}

	if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(endpoint)
	}

	return awsCfg, nil
}

// NotifyHTTPClient is the client used for owner webhooks.
func NotifyHTTPClient(cfg *appconfig.Config) *http.Client {
	return &http.Client{Timeout: cfg.NotifyTimeout}
}
