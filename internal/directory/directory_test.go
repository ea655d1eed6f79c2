package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamwatch/internal/streaming"
)

func testDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := New(map[string][]ChannelDescriptor{
		streaming.TypePushTopic: {
			{Label: "Accounts", Value: "Accounts"},
		},
		streaming.TypeGeneric: {
			{Label: "Notifications", Value: "Notifications"},
		},
		streaming.TypeStdPlatformEvent: {
			{Label: "Login Event Stream", Value: "LoginEventStream"},
		},
		streaming.TypePlatformEvent: {
			{Label: "Order", Value: "Order__e"},
		},
		streaming.TypeCDC: {
			{Label: "Account", Value: "AccountChangeEvent"},
			{Label: "Custom Object", Value: "Custom__ChangeEvent"},
		},
	})
	require.NoError(t, err)
	return d
}

func TestNew_RejectsUnknownType(t *testing.T) {
	_, err := New(map[string][]ChannelDescriptor{"BogusEvent": nil})
	assert.ErrorIs(t, err, streaming.ErrUnsupportedEventType)
}

func TestChannels_CDCAugmentation(t *testing.T) {
	d := testDirectory(t)

	descs, err := d.Channels(streaming.TypeCDC)
	require.NoError(t, err)
	require.Len(t, descs, 3)
	assert.Equal(t, "ChangeEvents", descs[0].Value)
	assert.Equal(t, "AccountChangeEvent", descs[1].Value)

	t.Run("other types are not augmented", func(t *testing.T) {
		descs, err := d.Channels(streaming.TypePushTopic)
		require.NoError(t, err)
		assert.Equal(t, []ChannelDescriptor{{Label: "Accounts", Value: "Accounts"}}, descs)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := d.Channels("BogusEvent")
		assert.ErrorIs(t, err, streaming.ErrUnsupportedEventType)
	})
}

func TestChannelsForScope(t *testing.T) {
	d := testDirectory(t)

	t.Run("all collapses CDC to the synthetic channel", func(t *testing.T) {
		channels, err := d.ChannelsForScope(ScopeAll)
		require.NoError(t, err)
		assert.Contains(t, channels, streaming.ChannelAllCDC)
		assert.Contains(t, channels, "/topic/Accounts")
		assert.Contains(t, channels, "/u/Notifications")
		assert.Contains(t, channels, "/event/LoginEventStream")
		assert.Contains(t, channels, "/event/Order__e")
		assert.NotContains(t, channels, "/data/AccountChangeEvent")
	})

	t.Run("custom keeps only user-defined channels", func(t *testing.T) {
		channels, err := d.ChannelsForScope(ScopeCustom)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			"/topic/Accounts",
			"/u/Notifications",
			"/event/Order__e",
			"/data/Custom__ChangeEvent",
		}, channels)
	})

	t.Run("cdc scope", func(t *testing.T) {
		channels, err := d.ChannelsForScope(streaming.TypeCDC)
		require.NoError(t, err)
		assert.Equal(t, []string{streaming.ChannelAllCDC}, channels)
	})

	t.Run("single type scope", func(t *testing.T) {
		channels, err := d.ChannelsForScope(streaming.TypePlatformEvent)
		require.NoError(t, err)
		assert.Equal(t, []string{"/event/Order__e"}, channels)
	})

	t.Run("unknown scope", func(t *testing.T) {
		_, err := d.ChannelsForScope("everything")
		assert.ErrorIs(t, err, streaming.ErrUnsupportedEventType)
	})
}
