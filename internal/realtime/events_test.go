package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"commi8/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDAcceptsStringsAndNumbers(t *testing.T) {
	var cmd ChannelCommand
	require.NoError(t, decodeStrict([]byte(`{"token":"t","channel_id":42}`), &cmd))
	assert.Equal(t, ID("42"), cmd.ChannelID)

	require.NoError(t, decodeStrict([]byte(`{"token":"t","channel_id":"channels:abc"}`), &cmd))
	assert.Equal(t, ID("channels:abc"), cmd.ChannelID)

	assert.Error(t, decodeStrict([]byte(`{"token":"t","channel_id":true}`), &cmd))
}

func TestCommandValidation(t *testing.T) {
	var join JoinServer
	require.NoError(t, decodeStrict([]byte(`{"token":"t","server_id":null}`), &join))
	assert.Error(t, join.validate())

	var msg SendMessage
	require.NoError(t, decodeStrict([]byte(`{"token":"t","channel_id":"c","content":""}`), &msg))
	assert.ErrorIs(t, msg.validate(), errEmptyContent)

	var noToken SendMessage
	require.NoError(t, decodeStrict([]byte(`{"channel_id":"c","content":"hi"}`), &noToken))
	assert.ErrorIs(t, noToken.validate(), errMissingToken)

	var signal VoiceSignal
	require.NoError(t, decodeStrict([]byte(`{"token":"t","channel_id":"c","target_user_id":"u","signal":{"sdp":"x"}}`), &signal))
	assert.NoError(t, signal.validate())

	var noTarget VoiceSignal
	require.NoError(t, decodeStrict([]byte(`{"token":"t","channel_id":"c","signal":{"sdp":"x"}}`), &noTarget))
	assert.ErrorIs(t, noTarget.validate(), errMissingField)
}

func TestEmptySignalsAreRejected(t *testing.T) {
	for _, payload := range []string{`null`, `""`, `{}`, `[]`, `false`, `0`} {
		t.Run(payload, func(t *testing.T) {
			var signal VoiceSignal
			raw := `{"token":"t","channel_id":"c","target_user_id":"u","signal":` + payload + `}`
			require.NoError(t, decodeStrict([]byte(raw), &signal))
			assert.ErrorIs(t, signal.validate(), errMissingSignal)
		})
	}

	var missing VoiceSignal
	require.NoError(t, decodeStrict([]byte(`{"token":"t","channel_id":"c","target_user_id":"u"}`), &missing))
	assert.ErrorIs(t, missing.validate(), errMissingSignal)

	for _, payload := range []string{`"offer"`, `1`, `true`, `[0]`, `{"candidate":""}`} {
		var signal VoiceSignal
		raw := `{"token":"t","channel_id":"c","target_user_id":"u","signal":` + payload + `}`
		require.NoError(t, decodeStrict([]byte(raw), &signal))
		assert.NoError(t, signal.validate(), payload)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	var cmd ChannelCommand
	assert.Error(t, decodeStrict([]byte(`{"token":"t","channel_id":"c","extra":1}`), &cmd))

	_, err := decodeFrame([]byte(`{"event":"typing","data":{},"id":3}`))
	assert.Error(t, err)

	_, err = decodeFrame([]byte(`{"data":{}}`))
	assert.Error(t, err)

	_, err = decodeFrame([]byte(`{"event":"typing","data":{}} {}`))
	assert.Error(t, err)
}

func TestNewMessageShape(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	payload := newMessage(models.Message{
		ID:          "m1",
		Content:     "hi",
		ChannelID:   "c1",
		CreatedAt:   created,
		Author:      models.Author{ID: "u1", Username: "ada", AvatarURL: "a.png"},
		Attachments: []models.Attachment{},
	})

	raw, err := encodeFrame(EventNewMessage, payload)
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, EventNewMessage, frame.Event)

	var data map[string]map[string]any
	require.NoError(t, json.Unmarshal(frame.Data, &data))
	message := data["message"]
	assert.Equal(t, "m1", message["id"])
	assert.Equal(t, "2024-05-01T12:00:00Z", message["created_at"])
	assert.Equal(t, map[string]any{"id": "u1", "username": "ada", "avatar_url": "a.png"}, message["author"])
	assert.NotContains(t, message, "attachments")
}
