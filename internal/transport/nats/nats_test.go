package nats

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamwatch/internal/streaming"
	"streamwatch/internal/transport"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, "STREAMWATCH", cfg.Stream)
	assert.Equal(t, "streamwatch", cfg.SubjectPrefix)
	assert.NotEmpty(t, cfg.URL)

	cfg = Config{Stream: "CUSTOM"}
	cfg.ApplyDefaults()
	assert.Equal(t, "CUSTOM", cfg.Stream)
}

func TestSubject(t *testing.T) {
	tr := &Transport{cfg: Config{SubjectPrefix: "streamwatch"}}

	tests := []struct {
		channel string
		subject string
	}{
		{"/event/Foo__e", "streamwatch.event.Foo__e"},
		{"/topic/Accounts", "streamwatch.topic.Accounts"},
		{"/u/Notifications", "streamwatch.u.Notifications"},
		{"/data/AccountChangeEvent", "streamwatch.data.AccountChangeEvent"},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			assert.Equal(t, tt.subject, tr.Subject(tt.channel))
		})
	}
}

func TestFilterSubject(t *testing.T) {
	tr := &Transport{cfg: Config{SubjectPrefix: "streamwatch"}}

	assert.Equal(t, "streamwatch.data.>", tr.filterSubject(streaming.ChannelAllCDC))
	assert.Equal(t, "streamwatch.data.AccountChangeEvent", tr.filterSubject("/data/AccountChangeEvent"))
	assert.Equal(t, "streamwatch.event.Foo__e", tr.filterSubject("/event/Foo__e"))
}

func TestDecodeEnvelope(t *testing.T) {
	meta := &jetstream.MsgMetadata{
		Sequence:  jetstream.SequencePair{Stream: 7},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	t.Run("replay id from stream sequence", func(t *testing.T) {
		env, err := decodeEnvelope("/event/Foo__e", []byte(`{"channel":"/event/Foo__e","data":{"payload":{}}}`), meta)
		require.NoError(t, err)
		assert.Equal(t, "/event/Foo__e", env.Channel)
		assert.Equal(t, int64(7), env.Data.Event.ReplayID)
		assert.Equal(t, "2026-03-01T12:00:00Z", env.Data.Event.CreatedDate)
	})

	t.Run("all-changes subscriber sees the all-changes channel", func(t *testing.T) {
		env, err := decodeEnvelope(streaming.ChannelAllCDC, []byte(`{"channel":"/data/AccountChangeEvent","data":{"payload":{}}}`), meta)
		require.NoError(t, err)
		assert.Equal(t, streaming.ChannelAllCDC, env.Channel)
	})

	t.Run("bad payload", func(t *testing.T) {
		_, err := decodeEnvelope("/u/x", []byte(`not json`), meta)
		require.Error(t, err)
	})
}

func TestDeliverPolicy(t *testing.T) {
	policy, seq := deliverPolicy(transport.ReplayAll)
	assert.Equal(t, jetstream.DeliverAllPolicy, policy)
	assert.Zero(t, seq)

	policy, seq = deliverPolicy(transport.ReplayNew)
	assert.Equal(t, jetstream.DeliverNewPolicy, policy)
	assert.Zero(t, seq)

	policy, seq = deliverPolicy(41)
	assert.Equal(t, jetstream.DeliverByStartSequencePolicy, policy)
	assert.Equal(t, uint64(42), seq)
}
