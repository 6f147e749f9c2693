package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/leadflow-ai/cmd/mainconfig"
	appconfig "github.com/wolfman30/leadflow-ai/internal/config"
	"github.com/wolfman30/leadflow-ai/internal/conversation"
	"github.com/wolfman30/leadflow-ai/internal/leads"
	"github.com/wolfman30/leadflow-ai/internal/notify"
	"github.com/wolfman30/leadflow-ai/internal/observability/metrics"
	"github.com/wolfman30/leadflow-ai/pkg/logging"
)

// awsLoader loads the shared AWS config once, on first use.
type awsLoader struct {
	cfg  *appconfig.Config
	once sync.Once
	aws  aws.Config
	err  error
}

func (l *awsLoader) Load(ctx context.Context) (aws.Config, error) {
	l.once.Do(func() {
		l.aws, l.err = mainconfig.LoadAWSConfig(ctx, l.cfg)
	})
	return l.aws, l.err
}

func setupMetrics() (http.Handler, *metrics.ConversationMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewConversationMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}

// connectPostgresPool returns nil when no database is configured.
func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("failed to reach postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

func connectRedis(cfg *appconfig.Config) *redis.Client {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

type stores struct {
	leads    leads.Repository
	admin    leads.AdminRepository
	followUp leads.FollowUpRepository
	sessions conversation.Store
	// lookup reads sessions outside the turn lock, so it bypasses the cache.
	lookup   conversation.SessionStore
	locker   conversation.SessionLocker
}

// setupStores picks Postgres or in-memory persistence, then layers the Redis
// session cache and the distributed lock on top when Redis is available.
func setupStores(cfg *appconfig.Config, pool *pgxpool.Pool, rdb *redis.Client, logger *logging.Logger) stores {
	var s stores
	if pool != nil {
		repo := leads.NewPostgresRepository(pool)
		s.leads, s.admin, s.followUp = repo, repo, repo
		s.sessions = conversation.NewPostgresStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		repo := leads.NewInMemoryRepository()
		s.leads, s.admin, s.followUp = repo, repo, repo
		s.sessions = conversation.NewMemoryStore(repo)
	}

	s.lookup = s.sessions

	if rdb != nil {
		s.sessions = conversation.NewCachedStore(s.sessions, rdb, cfg.SessionCacheTTL, logger)
		s.locker = conversation.NewRedisLocker(rdb, cfg.SessionLockTTL, logger)
	} else {
		s.locker = conversation.NewLocalLocker()
	}
	return s
}

// setupLLMClient builds the primary provider and, when configured, wraps it
// with a fallback. The returned closer releases provider resources.
func setupLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg *awsLoader, logger *logging.Logger) (conversation.LLMClient, io.Closer, error) {
	var closers multiCloser
	primary, err := newProviderClient(ctx, cfg.LLMProvider, cfg, awsCfg, &closers)
	if err != nil {
		return nil, closers, fmt.Errorf("llm provider %s: %w", cfg.LLMProvider, err)
	}
	if cfg.LLMFallbackProvider == "" || cfg.LLMFallbackProvider == cfg.LLMProvider {
		return primary, closers, nil
	}
	fallback, err := newProviderClient(ctx, cfg.LLMFallbackProvider, cfg, awsCfg, &closers)
	if err != nil {
		return nil, closers, fmt.Errorf("llm fallback provider %s: %w", cfg.LLMFallbackProvider, err)
	}
	logger.Info("llm fallback enabled", "primary", cfg.LLMProvider, "fallback", cfg.LLMFallbackProvider)
	return conversation.NewFallbackLLMClient(primary, fallback, logger), closers, nil
}

func newProviderClient(ctx context.Context, provider string, cfg *appconfig.Config, awsCfg *awsLoader, closers *multiCloser) (conversation.LLMClient, error) {
	switch provider {
	case "openai":
		return conversation.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	case "bedrock":
		ac, err := awsCfg.Load(ctx)
		if err != nil {
			return nil, err
		}
		return conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(ac), cfg.BedrockModelID), nil
	case "gemini":
		client, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, client)
		return client, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func setupGenerator(cfg *appconfig.Config, client conversation.LLMClient, m *metrics.ConversationMetrics, logger *logging.Logger) (*conversation.Generator, error) {
	profile := conversation.BusinessProfile{
		Name:     cfg.BusinessName,
		Services: cfg.BusinessServices,
		Communes: cfg.BusinessCommunes,
	}
	if err := profile.LoadBasePrompt(cfg.SystemPromptPath); err != nil {
		return nil, err
	}
	return conversation.NewGenerator(client, conversation.NewPromptBuilder(profile), logger,
		conversation.WithModel(cfg.OpenAIModel),
		conversation.WithMaxAttempts(cfg.LLMMaxAttempts),
		conversation.WithLLMTimeout(cfg.LLMTimeout),
		conversation.WithMaxHistory(cfg.LLMMaxHistory),
		conversation.WithSampling(int32(cfg.LLMMaxTokens), float32(cfg.LLMTemperature)),
		conversation.WithBackoff(conversation.BackoffPolicy{
			Base:   cfg.LLMBaseDelay,
			Max:    cfg.LLMMaxDelay,
			Jitter: cfg.LLMMaxJitter,
		}),
		conversation.WithGeneratorMetrics(m),
	), nil
}

func setupEmailSender(ctx context.Context, cfg *appconfig.Config, awsCfg *awsLoader, logger *logging.Logger) (notify.EmailSender, error) {
	switch cfg.EmailProvider {
	case "sendgrid":
		sender, err := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger)
		if err != nil {
			return nil, err
		}
		return sender, nil
	case "ses":
		ac, err := awsCfg.Load(ctx)
		if err != nil {
			return nil, err
		}
		return notify.NewSESSender(sesv2.NewFromConfig(ac), notify.SESConfig{
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger), nil
	default:
		return notify.NewStubEmailSender(logger), nil
	}
}

func setupNotifier(ctx context.Context, cfg *appconfig.Config, awsCfg *awsLoader, m *metrics.ConversationMetrics, logger *logging.Logger) (*notify.Service, *notify.AsyncDispatcher, error) {
	email, err := setupEmailSender(ctx, cfg, awsCfg, logger)
	if err != nil {
		return nil, nil, err
	}
	var webhook *notify.WebhookSender
	if cfg.NotifyWebhookURL != "" {
		webhook = notify.NewWebhookSender(cfg.NotifyWebhookURL, mainconfig.NotifyHTTPClient(cfg))
	}
	svc := notify.NewService(email, webhook, notify.ServiceConfig{
		Recipients:   cfg.NotifyEmails,
		BusinessName: cfg.BusinessName,
	}, logger)
	return svc, notify.NewAsyncDispatcher(svc, cfg.NotifyTimeout, m, logger), nil
}

// setupProcessor fronts the orchestrator with the queue dispatcher when a
// queue is configured; otherwise turns run inline under the session lock.
func setupProcessor(ctx context.Context, cfg *appconfig.Config, orch *conversation.Orchestrator, awsCfg *awsLoader, logger *logging.Logger) (conversation.TurnProcessor, *conversation.Dispatcher, error) {
	opts := []conversation.DispatcherOption{conversation.WithWorkerCount(cfg.WorkerCount)}
	switch {
	case cfg.UseMemoryQueue:
		d := conversation.NewDispatcher(orch, conversation.NewMemoryQueue(256), logger, opts...)
		return d, d, nil
	case cfg.ConversationQueueURL != "":
		ac, err := awsCfg.Load(ctx)
		if err != nil {
			return nil, nil, err
		}
		queue := conversation.NewSQSQueue(sqs.NewFromConfig(ac), cfg.ConversationQueueURL)
		d := conversation.NewDispatcher(orch, queue, logger, append(opts, conversation.WithReceiveWaitSeconds(10))...)
		return d, d, nil
	default:
		return orch, nil, nil
	}
}
