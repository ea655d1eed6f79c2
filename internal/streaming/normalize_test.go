package streaming

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEnvelope(t *testing.T, raw string) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	return env
}

func TestNormalize_PushTopic(t *testing.T) {
	env := mustEnvelope(t, `{
		"channel": "/topic/Accounts",
		"data": {
			"event": {"replayId": 4, "createdDate": "2021-02-03T12:02:03.123Z", "type": "created"},
			"sobject": {"Name":"Acme","Id":"0010000001"}
		}
	}`)

	evt, err := NewNormalizer(time.UTC).Normalize(env)
	require.NoError(t, err)

	assert.Equal(t, "/topic/Accounts4", evt.ID)
	assert.Equal(t, KindPushTopic, evt.Kind)
	assert.Equal(t, "/topic/Accounts", evt.Channel)
	assert.Equal(t, int64(4), evt.ReplayID)
	assert.Equal(t, "PushTopic: Accounts", evt.Type)
	assert.Equal(t, `{"Name":"Acme","Id":"0010000001"}`, evt.Payload)

	want := time.Date(2021, 2, 3, 12, 2, 3, 123e6, time.UTC).UnixMilli()
	assert.Equal(t, want, evt.Timestamp)
	assert.Equal(t, "2021-02-03 12:02:03", evt.TimeLabel)
}

func TestNormalize_Generic(t *testing.T) {
	env := mustEnvelope(t, `{
		"channel": "/u/Notifications",
		"data": {
			"event": {"replayId": 11, "createdDate": "2021-02-03T12:02:03Z"},
			"payload": "free-form text"
		}
	}`)

	evt, err := NewNormalizer(time.UTC).Normalize(env)
	require.NoError(t, err)

	// No schema id on generic events: the channel discriminates.
	assert.Equal(t, "/u/Notifications11", evt.ID)
	assert.Equal(t, KindGeneric, evt.Kind)
	assert.Equal(t, "Generic", evt.Type)
	assert.Equal(t, `"free-form text"`, evt.Payload)
}

func TestNormalize_PlatformEvent(t *testing.T) {
	env := mustEnvelope(t, `{
		"channel": "/event/Order__e",
		"data": {
			"schema": "30H2pgzuWcF844p26Ityvg",
			"event": {"replayId": 2},
			"payload": {"CreatedDate": "2021-02-03T12:02:03Z", "CreatedById": "005000001", "Status__c": "Shipped"}
		}
	}`)

	evt, err := NewNormalizer(time.UTC).Normalize(env)
	require.NoError(t, err)

	assert.Equal(t, "30H2pgzuWcF844p26Ityvg2", evt.ID)
	assert.Equal(t, KindPlatformEvent, evt.Kind)
	assert.Equal(t, "Platform Event", evt.Type)
	assert.Equal(t, time.Date(2021, 2, 3, 12, 2, 3, 0, time.UTC).UnixMilli(), evt.Timestamp)
}

func TestNormalize_ChangeDataCapture(t *testing.T) {
	commit := time.Date(2021, 2, 3, 12, 2, 3, 0, time.UTC).UnixMilli()
	env := mustEnvelope(t, `{
		"channel": "/data/AccountChangeEvent",
		"data": {
			"schema": "IeRuaY6cbI_HsV8Rv1Mc5g",
			"event": {"replayId": 6},
			"payload": {
				"ChangeEventHeader": {"commitTimestamp": `+strconv.FormatInt(commit, 10)+`, "entityName": "Account", "changeType": "UPDATE"},
				"Name": "Acme"
			}
		}
	}`)

	// Local offset of +60 minutes: the label reads as wall-clock time.
	loc := time.FixedZone("UTC+1", 3600)
	evt, err := NewNormalizer(loc).Normalize(env)
	require.NoError(t, err)

	assert.Equal(t, "IeRuaY6cbI_HsV8Rv1Mc5g6", evt.ID)
	assert.Equal(t, KindChangeDataCapture, evt.Kind)
	assert.Equal(t, "Change Event: Account UPDATE", evt.Type)
	assert.Equal(t, commit, evt.Timestamp)
	assert.Equal(t, "2021-02-03 13:02:03", evt.TimeLabel)
}

func TestNormalize_NoTimeSource(t *testing.T) {
	env := mustEnvelope(t, `{
		"channel": "/event/Foo__e",
		"data": {"event": {"replayId": 1}, "payload": {"Value__c": 42}}
	}`)

	evt, err := NewNormalizer(time.UTC).Normalize(env)
	require.NoError(t, err)

	assert.Zero(t, evt.Timestamp)
	assert.Empty(t, evt.TimeLabel)
}

func TestNormalize_NoPayload(t *testing.T) {
	env := mustEnvelope(t, `{
		"channel": "/event/Foo__e",
		"data": {"event": {"replayId": 9, "createdDate": "2021-02-03T12:02:03Z"}}
	}`)

	evt, err := NewNormalizer(time.UTC).Normalize(env)
	require.NoError(t, err)
	assert.Equal(t, "null", evt.Payload)
}

func TestNormalize_Malformed(t *testing.T) {
	t.Run("missing event block", func(t *testing.T) {
		env := mustEnvelope(t, `{"channel": "/event/Foo__e", "data": {"payload": {}}}`)
		_, err := NewNormalizer(time.UTC).Normalize(env)
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})

	t.Run("missing replay id", func(t *testing.T) {
		env := mustEnvelope(t, `{"channel": "/event/Foo__e", "data": {"event": {}}}`)
		_, err := NewNormalizer(time.UTC).Normalize(env)
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})
}
