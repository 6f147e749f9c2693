package conversation

import (
	"context"

	"github.com/wolfman30/leadflow-ai/pkg/logging"
)

// FallbackLLMClient wraps a primary LLM client with a fallback provider.
// Only transport failures worth retrying are handed to the fallback; an
// authentication error on the primary is returned as-is.
type FallbackLLMClient struct {
	primary  LLMClient
	fallback LLMClient
	logger   *logging.Logger
}

// NewFallbackLLMClient creates a new fallback-enabled LLM client.
// If fallback is nil, the client will only use the primary provider.
func NewFallbackLLMClient(primary, fallback LLMClient, logger *logging.Logger) *FallbackLLMClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackLLMClient{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (c *FallbackLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if c.fallback == nil || !IsRetriable(err) || ctx.Err() != nil {
		return resp, err
	}

	c.logger.Warn("primary LLM failed, attempting fallback",
		"error", err.Error(),
		"provider", resp.Provider,
	)

	fallbackResp, fallbackErr := c.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		c.logger.Error("fallback LLM also failed",
			"primary_error", err.Error(),
			"fallback_error", fallbackErr.Error(),
		)
		return fallbackResp, fallbackErr
	}

	c.logger.Info("fallback LLM succeeded after primary failure", "provider", fallbackResp.Provider)
	return fallbackResp, nil
}
