package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/leadflow-ai/internal/leads"
	"github.com/wolfman30/leadflow-ai/pkg/logging"
)

const defaultSessionCacheTTL = 24 * time.Hour

// fillSessionScript writes the cached copy only if no invalidation ran since
// the caller read the generation. KEYS: session, generation. ARGV: expected
// generation, payload, ttl in ms.
var fillSessionScript = redis.NewScript(`
local gen = redis.call("GET", KEYS[2])
if gen == false then gen = "" end
if gen ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// invalidateSessionScript bumps the generation before dropping the cached
// copy so an in-flight fill loses. KEYS: session, generation. ARGV: ttl in ms.
var invalidateSessionScript = redis.NewScript(`
redis.call("INCR", KEYS[2])
redis.call("PEXPIRE", KEYS[2], ARGV[1])
return redis.call("DEL", KEYS[1])
`)

// CachedStore fronts a Store with a Redis read-through cache. Writes always
// reach the underlying store first and then drop the cached copy, so the
// store stays the source of truth.
type CachedStore struct {
	store  Store
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
	tracer trace.Tracer
}

func NewCachedStore(store Store, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedStore {
	if store == nil {
		panic("conversation: backing store cannot be nil")
	}
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultSessionCacheTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedStore{
		store:  store,
		redis:  client,
		ttl:    ttl,
		logger: logger,
		tracer: otel.Tracer("leadflow.internal.conversation.cache"),
	}
}

func (c *CachedStore) FindBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	ctx, span := c.tracer.Start(ctx, "conversation.cache.find")
	defer span.End()

	data, err := c.redis.Get(ctx, sessionKey(sessionID)).Bytes()
	switch {
	case err == nil:
		var sess Session
		jerr := json.Unmarshal(data, &sess)
		if jerr == nil {
			return &sess, nil
		}
		c.logger.Warn("discarding undecodable cached session", "session_id", sessionID, "error", jerr)
	case !errors.Is(err, redis.Nil):
		span.RecordError(err)
		c.logger.Warn("session cache read failed", "session_id", sessionID, "error", err)
	}

	// The generation must be read before the store so a write that lands
	// in between is detected at fill time.
	gen, genErr := c.redis.Get(ctx, generationKey(sessionID)).Result()
	if errors.Is(genErr, redis.Nil) {
		gen, genErr = "", nil
	}

	sess, err := c.store.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if genErr == nil {
		c.fill(ctx, sessionID, gen, sess)
	}
	return sess, nil
}

func (c *CachedStore) fill(ctx context.Context, sessionID, gen string, sess *Session) {
	data, err := json.Marshal(sess)
	if err != nil {
		return
	}
	keys := []string{sessionKey(sessionID), generationKey(sessionID)}
	stored, err := fillSessionScript.Run(ctx, c.redis, keys, gen, data, c.ttl.Milliseconds()).Int()
	switch {
	case err != nil:
		c.logger.Warn("session cache fill failed", "session_id", sessionID, "error", err)
	case stored == 0:
		c.logger.Debug("skipped stale session cache fill", "session_id", sessionID)
	}
}

func (c *CachedStore) Save(ctx context.Context, sessionID string, history []ChatMessage, channel leads.Channel) error {
	if err := c.store.Save(ctx, sessionID, history, channel); err != nil {
		return err
	}
	return c.invalidate(ctx, sessionID)
}

func (c *CachedStore) AssociateWithLead(ctx context.Context, sessionID, leadID string) error {
	if err := c.store.AssociateWithLead(ctx, sessionID, leadID); err != nil {
		return err
	}
	return c.invalidate(ctx, sessionID)
}

func (c *CachedStore) MarkCompleted(ctx context.Context, sessionID string) error {
	if err := c.store.MarkCompleted(ctx, sessionID); err != nil {
		return err
	}
	return c.invalidate(ctx, sessionID)
}

func (c *CachedStore) CaptureLead(ctx context.Context, sessionID string, req *leads.CreateLeadRequest) (*leads.Lead, error) {
	lead, err := c.store.CaptureLead(ctx, sessionID, req)
	if err != nil {
		return nil, err
	}
	return lead, c.invalidate(ctx, sessionID)
}

// invalidate fails loudly: a stale cached session could hide a completed
// state from the next turn.
func (c *CachedStore) invalidate(ctx context.Context, sessionID string) error {
	keys := []string{sessionKey(sessionID), generationKey(sessionID)}
	if err := invalidateSessionScript.Run(ctx, c.redis, keys, c.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("conversation: invalidate cached session: %w", err)
	}
	return nil
}

// Both keys share a hash tag so the scripts stay on one cluster slot.
func sessionKey(id string) string {
	return fmt.Sprintf("leadflow:session:{%s}", id)
}

func generationKey(id string) string {
	return fmt.Sprintf("leadflow:session:{%s}:gen", id)
}
