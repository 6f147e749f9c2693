package conversation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/leadflow-ai/internal/classifier"
	"github.com/wolfman30/leadflow-ai/internal/leads"
)

type countingStore struct {
	*MemoryStore
	finds atomic.Int32
}

func (c *countingStore) FindBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	c.finds.Add(1)
	return c.MemoryStore.FindBySessionID(ctx, sessionID)
}

func newCachedTestStore(t *testing.T) (*miniredis.Miniredis, *countingStore, *CachedStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backing := &countingStore{MemoryStore: NewMemoryStore(nil)}
	return mr, backing, NewCachedStore(backing, client, time.Hour, nil)
}

func TestCachedStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	mr, backing, cache := newCachedTestStore(t)

	require.NoError(t, cache.Save(ctx, "s1", userHistory("hola"), leads.ChannelWeb))

	first, err := cache.FindBySessionID(ctx, "s1")
	require.NoError(t, err)
	second, err := cache.FindBySessionID(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, first.History, second.History)
	assert.Equal(t, int32(1), backing.finds.Load())
	assert.True(t, mr.Exists(sessionKey("s1")))
	assert.Equal(t, time.Hour, mr.TTL(sessionKey("s1")))
}

func TestCachedStore_WritesInvalidate(t *testing.T) {
	ctx := context.Background()
	mr, backing, cache := newCachedTestStore(t)

	require.NoError(t, cache.Save(ctx, "s1", userHistory("hola"), leads.ChannelWeb))
	_, err := cache.FindBySessionID(ctx, "s1")
	require.NoError(t, err)
	require.True(t, mr.Exists(sessionKey("s1")))

	lead, err := cache.CaptureLead(ctx, "s1", completeLeadRequest())
	require.NoError(t, err)
	assert.False(t, mr.Exists(sessionKey("s1")))

	sess, err := cache.FindBySessionID(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, sess.Completed())
	assert.Equal(t, lead.ID, sess.LeadID)
	assert.Equal(t, int32(2), backing.finds.Load())
}

func TestCachedStore_NotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	mr, _, cache := newCachedTestStore(t)

	_, err := cache.FindBySessionID(ctx, "ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, mr.Exists(sessionKey("ghost")))
}

func TestCachedStore_IgnoresCorruptEntry(t *testing.T) {
	ctx := context.Background()
	mr, _, cache := newCachedTestStore(t)

	require.NoError(t, cache.Save(ctx, "s1", userHistory("hola"), leads.ChannelWeb))
	require.NoError(t, mr.Set(sessionKey("s1"), "{not json"))

	sess, err := cache.FindBySessionID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "hola", sess.History[0].Content)
}

func TestCachedStore_RedisDown(t *testing.T) {
	ctx := context.Background()
	mr, _, cache := newCachedTestStore(t)

	require.NoError(t, cache.Save(ctx, "s1", userHistory("hola"), leads.ChannelWeb))
	mr.Close()

	sess, err := cache.FindBySessionID(ctx, "s1")
	require.NoError(t, err, "reads fall back to the store")
	assert.Len(t, sess.History, 1)

	err = cache.Save(ctx, "s1", userHistory("hola", "otra vez"), leads.ChannelWeb)
	assert.ErrorContains(t, err, "invalidate cached session")
}

// pausingStore holds the first armed read after it has loaded the session,
// leaving a window for a concurrent write.
type pausingStore struct {
	*MemoryStore
	armed   atomic.Bool
	loaded  chan struct{}
	release chan struct{}
}

func (p *pausingStore) FindBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := p.MemoryStore.FindBySessionID(ctx, sessionID)
	if p.armed.CompareAndSwap(true, false) {
		close(p.loaded)
		<-p.release
	}
	return sess, err
}

func TestCachedStore_LateFillDoesNotReopenCompletedSession(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := leads.NewInMemoryRepository()
	backing := &pausingStore{
		MemoryStore: NewMemoryStore(repo),
		loaded:      make(chan struct{}),
		release:     make(chan struct{}),
	}
	cache := NewCachedStore(backing, client, time.Hour, nil)
	llm := newScriptedLLM()
	gen, _ := newTestGenerator(llm)
	orch := NewOrchestrator(cache, repo, gen, classifier.Default(), nil)

	turn := func(msg string) *TurnResult {
		res, err := orch.ProcessMessage(ctx, MessageRequest{SessionID: "s1", Message: msg, Channel: leads.ChannelWeb})
		require.NoError(t, err)
		return res
	}

	llm.script(llmStep{text: modelReply("¿Cuál es tu nombre?", leads.StatusHot,
		map[string]string{"phone": "+56912345678", "service": "instalación"})})
	require.False(t, turn("Necesito instalación urgente, mi número es +56912345678").LeadSaved)

	backing.armed.Store(true)
	staleRead := make(chan *Session, 1)
	go func() {
		sess, err := cache.FindBySessionID(ctx, "s1")
		assert.NoError(t, err)
		staleRead <- sess
	}()
	<-backing.loaded

	llm.script(llmStep{text: modelReply("listo", leads.StatusWarm,
		map[string]string{"name": "Juan Pérez", "phone": "+56912345678", "service": "instalación"})})
	captured := turn("Me llamo Juan Pérez")
	require.True(t, captured.LeadSaved)
	require.True(t, captured.SessionComplete)

	close(backing.release)
	stale := <-staleRead
	assert.False(t, stale.Completed(), "the paused read saw the pre-capture row")
	assert.False(t, mr.Exists(sessionKey("s1")), "late fill must be dropped")

	before := llm.callCount()
	res := turn("¿Siguen ahí?")
	assert.Equal(t, DefaultClosingReply, res.Reply)
	assert.True(t, res.SessionComplete)
	assert.Equal(t, captured.LeadID, res.LeadID)
	assert.Equal(t, before, llm.callCount())

	stored, err := backing.MemoryStore.FindBySessionID(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, stored.Completed())
	assert.Len(t, stored.History, 4)
}

func TestCachedStore_InvalidateBumpsGeneration(t *testing.T) {
	ctx := context.Background()
	mr, _, cache := newCachedTestStore(t)

	require.NoError(t, cache.Save(ctx, "s1", userHistory("hola"), leads.ChannelWeb))
	require.NoError(t, cache.Save(ctx, "s1", userHistory("hola", "de nuevo"), leads.ChannelWeb))

	gen, err := mr.Get(generationKey("s1"))
	require.NoError(t, err)
	assert.Equal(t, "2", gen)
	assert.Equal(t, time.Hour, mr.TTL(generationKey("s1")))

	_, err = cache.FindBySessionID(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(sessionKey("s1")), "fill succeeds when no write raced it")
}
