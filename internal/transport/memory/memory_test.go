package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamwatch/internal/streaming"
	"streamwatch/internal/transport"
)

func payloadEnvelope(channel, payload string) streaming.Envelope {
	return streaming.Envelope{
		Channel: channel,
		Data:    streaming.EnvelopeData{Payload: []byte(payload)},
	}
}

type collector struct {
	mu   sync.Mutex
	envs []streaming.Envelope
}

func (c *collector) handle(env streaming.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
}

func (c *collector) waitFor(t *testing.T, n int) []streaming.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.envs) >= n {
			out := append([]streaming.Envelope(nil), c.envs...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		require.True(t, time.Now().Before(deadline), "timed out waiting for %d envelopes", n)
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngine_PublishDelivers(t *testing.T) {
	e := New(WithChannels("/u/Notifications"))
	defer e.Close()

	var c collector
	sub, err := e.Subscribe(context.Background(), "/u/Notifications", transport.ReplayNew, c.handle)
	require.NoError(t, err)
	assert.Equal(t, "/u/Notifications", sub.Channel)

	require.NoError(t, e.Publish(context.Background(), payloadEnvelope("/u/Notifications", `"hello"`)))

	envs := c.waitFor(t, 1)
	assert.Equal(t, int64(1), envs[0].Data.Event.ReplayID)
	assert.NotEmpty(t, envs[0].Data.Event.CreatedDate)
}

func TestEngine_Replay(t *testing.T) {
	e := New(WithChannels("/event/Foo__e"))
	defer e.Close()

	ctx := context.Background()
	for range 3 {
		require.NoError(t, e.Publish(ctx, payloadEnvelope("/event/Foo__e", `{}`)))
	}

	t.Run("replay all", func(t *testing.T) {
		var c collector
		_, err := e.Subscribe(ctx, "/event/Foo__e", transport.ReplayAll, c.handle)
		require.NoError(t, err)
		envs := c.waitFor(t, 3)
		assert.Equal(t, int64(1), envs[0].Data.Event.ReplayID)
		require.NoError(t, e.Unsubscribe(ctx, transport.Subscription{Channel: "/event/Foo__e"}))
	})

	t.Run("replay after id", func(t *testing.T) {
		var c collector
		_, err := e.Subscribe(ctx, "/event/Foo__e", 2, c.handle)
		require.NoError(t, err)
		envs := c.waitFor(t, 1)
		assert.Equal(t, int64(3), envs[0].Data.Event.ReplayID)
	})
}

func TestEngine_ChangeEventsFanIntoAllChangesChannel(t *testing.T) {
	e := New(WithChannels(streaming.ChannelAllCDC, "/data/AccountChangeEvent"))
	defer e.Close()

	ctx := context.Background()
	var all, concrete collector
	_, err := e.Subscribe(ctx, streaming.ChannelAllCDC, transport.ReplayNew, all.handle)
	require.NoError(t, err)
	_, err = e.Subscribe(ctx, "/data/AccountChangeEvent", transport.ReplayNew, concrete.handle)
	require.NoError(t, err)

	require.NoError(t, e.Publish(ctx, payloadEnvelope("/data/AccountChangeEvent", `{}`)))

	envs := all.waitFor(t, 1)
	assert.Equal(t, streaming.ChannelAllCDC, envs[0].Channel)
	assert.Equal(t, int64(1), envs[0].Data.Event.ReplayID)

	envs = concrete.waitFor(t, 1)
	assert.Equal(t, "/data/AccountChangeEvent", envs[0].Channel)

	// Non-change channels stay out of the all-changes fan.
	e2 := New(WithChannels(streaming.ChannelAllCDC, "/event/Foo__e"))
	defer e2.Close()
	var c collector
	_, err = e2.Subscribe(ctx, streaming.ChannelAllCDC, transport.ReplayNew, c.handle)
	require.NoError(t, err)
	require.NoError(t, e2.Publish(ctx, payloadEnvelope("/event/Foo__e", `{}`)))
	time.Sleep(20 * time.Millisecond)
	c.mu.Lock()
	assert.Empty(t, c.envs)
	c.mu.Unlock()
}

func TestEngine_AllChangesReplayBuffered(t *testing.T) {
	e := New(WithChannels(streaming.ChannelAllCDC, "/data/AccountChangeEvent", "/data/ContactChangeEvent"))
	defer e.Close()

	ctx := context.Background()
	require.NoError(t, e.Publish(ctx, payloadEnvelope("/data/AccountChangeEvent", `{}`)))
	require.NoError(t, e.Publish(ctx, payloadEnvelope("/data/ContactChangeEvent", `{}`)))

	var c collector
	_, err := e.Subscribe(ctx, streaming.ChannelAllCDC, transport.ReplayAll, c.handle)
	require.NoError(t, err)

	envs := c.waitFor(t, 2)
	assert.Equal(t, int64(1), envs[0].Data.Event.ReplayID)
	assert.Equal(t, int64(2), envs[1].Data.Event.ReplayID)
}

func TestEngine_PublishLeavesCallerEnvelopeAlone(t *testing.T) {
	e := New(WithChannels("/u/Notifications"))
	defer e.Close()

	meta := &streaming.EnvelopeMeta{Type: "Notification"}
	env := streaming.Envelope{
		Channel: "/u/Notifications",
		Data:    streaming.EnvelopeData{Event: meta, Payload: []byte(`{}`)},
	}
	require.NoError(t, e.Publish(context.Background(), env))

	assert.Zero(t, meta.ReplayID)
	assert.Empty(t, meta.CreatedDate)
}

func TestEngine_RejectsUnprovisionedChannel(t *testing.T) {
	e := New()
	defer e.Close()

	_, err := e.Subscribe(context.Background(), "/data/FooChangeEvent", transport.ReplayNew, func(streaming.Envelope) {})
	var subErr *transport.SubscribeError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, transport.MetaSubscribe, subErr.Channel)
	assert.Equal(t, "/data/FooChangeEvent", subErr.Subscription)
	assert.Equal(t, ReasonInvalidChannel, subErr.Reason)
}

func TestEngine_Denial(t *testing.T) {
	e := New(
		WithChannels("/event/Secret__e"),
		WithDenial("/event/Secret__e", ReasonPolicyDenied),
	)
	defer e.Close()

	_, err := e.Subscribe(context.Background(), "/event/Secret__e", transport.ReplayNew, func(streaming.Envelope) {})
	var subErr *transport.SubscribeError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, ReasonPolicyDenied, subErr.Reason)
}

func TestEngine_Closed(t *testing.T) {
	e := New(WithChannels("/u/x"))
	require.NoError(t, e.Close())
	require.NoError(t, e.Close()) // idempotent

	_, err := e.Subscribe(context.Background(), "/u/x", transport.ReplayNew, func(streaming.Envelope) {})
	assert.ErrorIs(t, err, ErrEngineClosed)
	assert.ErrorIs(t, e.Publish(context.Background(), payloadEnvelope("/u/x", `{}`)), ErrEngineClosed)
}
