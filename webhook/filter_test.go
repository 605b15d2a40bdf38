package webhook

import (
	"errors"
	"strings"
	"testing"
	"time"

	"webhook-gateway/apierr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var receivedAt = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func parse(t *testing.T, body string) Event {
	t.Helper()
	ev, err := ParseEvent([]byte(body))
	require.NoError(t, err)
	return ev
}

const upsert = `{"instance":"x","event":"messages.upsert","data":{"key":{"remoteJid":"551199999@s.whatsapp.net","id":"m1"},"message":{"conversation":"hi"},"pushName":"Ana"}}`

func TestFilter_NormalizesConversation(t *testing.T) {
	res := NewFilter().Apply(parse(t, upsert), receivedAt)

	require.False(t, res.Ignored)
	assert.Equal(t, Message{
		MessageID:    "m1",
		InstanceName: "x",
		RemoteJid:    "551199999@s.whatsapp.net",
		SenderPhone:  "551199999",
		SenderName:   "Ana",
		Text:         "hi",
		Event:        "messages.upsert",
		ReceivedAt:   receivedAt,
	}, res.Message)
}

func TestFilter_IgnoreChain(t *testing.T) {
	cases := []struct {
		name string
		body string
		want IgnoreReason
	}{
		{
			name: "no data",
			body: `{"instance":"x","event":"connection.update"}`,
			want: ReasonNotAMessage,
		},
		{
			name: "data is a list",
			body: `{"instance":"x","event":"messages.update","data":[{"id":"1"}]}`,
			want: ReasonNotAMessage,
		},
		{
			name: "no key",
			body: `{"instance":"x","event":"messages.upsert","data":{"message":{"conversation":"hi"}}}`,
			want: ReasonNotAMessage,
		},
		{
			name: "status broadcast",
			body: `{"instance":"x","event":"messages.upsert","data":{"key":{"remoteJid":"status@broadcast","id":"m1"},"message":{"conversation":"hi"}}}`,
			want: ReasonGroupOrBroadcast,
		},
		{
			name: "group",
			body: `{"instance":"x","event":"messages.upsert","data":{"key":{"remoteJid":"120363025@g.us","id":"m1"},"message":{"conversation":"hi"}}}`,
			want: ReasonGroupOrBroadcast,
		},
		{
			name: "no message",
			body: `{"instance":"x","event":"messages.upsert","data":{"key":{"remoteJid":"551199999@s.whatsapp.net","id":"m1"}}}`,
			want: ReasonNoMessage,
		},
		{
			name: "null message",
			body: `{"instance":"x","event":"messages.upsert","data":{"key":{"remoteJid":"551199999@s.whatsapp.net","id":"m1"},"message":null}}`,
			want: ReasonNoMessage,
		},
		{
			name: "other event",
			body: `{"instance":"x","event":"messages.update","data":{"key":{"remoteJid":"551199999@s.whatsapp.net","id":"m1"},"message":{"conversation":"hi"}}}`,
			want: ReasonUnsupportedEvent,
		},
		{
			name: "from me",
			body: `{"instance":"x","event":"messages.upsert","data":{"key":{"remoteJid":"551199999@s.whatsapp.net","id":"m1","fromMe":true},"message":{"conversation":"hi"}}}`,
			want: ReasonFromMe,
		},
		{
			// a ordem importa: grupo vence a falta de mensagem
			name: "group without message",
			body: `{"instance":"x","event":"messages.upsert","data":{"key":{"remoteJid":"120363025@g.us","id":"m1"}}}`,
			want: ReasonGroupOrBroadcast,
		},
	}

	f := NewFilter()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := f.Apply(parse(t, tc.body), receivedAt)
			assert.True(t, res.Ignored)
			assert.Equal(t, tc.want, res.Reason)
		})
	}
}

func TestFilter_EventNameVariants(t *testing.T) {
	f := NewFilter()
	for _, name := range []string{"MESSAGES_UPSERT", "messages.upsert", "Messages.Upsert", "messages_upsert"} {
		ev := parse(t, upsert)
		ev.Event = name
		assert.False(t, f.Apply(ev, receivedAt).Ignored, name)
	}
}

func TestFilter_FromMeAllowedWhenConfigured(t *testing.T) {
	body := `{"instance":"x","event":"messages.upsert","data":{"key":{"remoteJid":"551199999@s.whatsapp.net","id":"m1","fromMe":true},"message":{"conversation":"hi"}}}`

	res := NewFilter(WithIgnoreFromMe(false)).Apply(parse(t, body), receivedAt)
	assert.False(t, res.Ignored)
}

func TestFilter_CustomAcceptedEvents(t *testing.T) {
	f := NewFilter(WithAcceptedEvents("send.message"))

	assert.True(t, f.Apply(parse(t, upsert), receivedAt).Ignored)

	ev := parse(t, upsert)
	ev.Event = "SEND_MESSAGE"
	assert.False(t, f.Apply(ev, receivedAt).Ignored)
}

func TestNormalize_TextFallbacks(t *testing.T) {
	f := NewFilter()

	ext := `{"instance":"x","event":"messages.upsert","data":{"key":{"remoteJid":"551199999@s.whatsapp.net","id":"m2"},"message":{"extendedTextMessage":{"text":"link https://exemplo.com"}}}}`
	res := f.Apply(parse(t, ext), receivedAt)
	assert.Equal(t, "link https://exemplo.com", res.Message.Text)
	assert.Equal(t, NoNameText, res.Message.SenderName)

	img := `{"instance":"x","event":"messages.upsert","data":{"key":{"remoteJid":"551199999@s.whatsapp.net","id":"m3"},"message":{"imageMessage":{"url":"..."}},"pushName":"  "}}`
	res = f.Apply(parse(t, img), receivedAt)
	assert.Equal(t, UnsupportedText, res.Message.Text)
	assert.Equal(t, NoNameText, res.Message.SenderName)
	assert.Empty(t, res.Message.ContentHash())
}

func TestParseEvent_Malformed(t *testing.T) {
	_, err := ParseEvent([]byte(`{"instance":`))
	require.Error(t, err)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))

	var e *apierr.Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, "malformed event payload", e.Message)
}

func TestParseEvent_DataWithWrongFieldTypes(t *testing.T) {
	bodies := map[string]string{
		"numeric id":      `{"instance":"x","event":"messages.upsert","data":{"key":{"remoteJid":"551199999@s.whatsapp.net","id":5},"message":{"conversation":"hi"}}}`,
		"message string":  `{"instance":"x","event":"messages.upsert","data":{"key":{"remoteJid":"551199999@s.whatsapp.net","id":"m1"},"message":"hi"}}`,
		"fromMe string":   `{"instance":"x","event":"messages.upsert","data":{"key":{"remoteJid":"551199999@s.whatsapp.net","id":"m1","fromMe":"yes"},"message":{"conversation":"hi"}}}`,
		"pushName object": `{"instance":"x","event":"messages.upsert","data":{"key":{"remoteJid":"551199999@s.whatsapp.net","id":"m1"},"message":{"conversation":"hi"},"pushName":{}}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEvent([]byte(body))
			require.Error(t, err)
			assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
		})
	}

	// data que não é objeto continua sendo só "não é mensagem"
	ev := parse(t, `{"instance":"x","event":"messages.upsert","data":"hi"}`)
	assert.Nil(t, ev.Data)
}

func TestNormalize_MissingIDGetsUniqueID(t *testing.T) {
	body := `{"instance":"x","event":"messages.upsert","data":{"key":{"remoteJid":"551199999@s.whatsapp.net"},"message":{"conversation":"hi"}}}`
	f := NewFilter()

	a := f.Apply(parse(t, body), receivedAt)
	b := f.Apply(parse(t, body), receivedAt)

	require.False(t, a.Ignored)
	assert.True(t, strings.HasPrefix(a.Message.MessageID, "auto-1767268800000-"), a.Message.MessageID)
	assert.NotEqual(t, a.Message.MessageID, b.Message.MessageID)
}

func TestMessage_ContentHash(t *testing.T) {
	a := Message{Text: "hi"}
	b := Message{Text: "hi", MessageID: "other"}
	c := Message{Text: "hi!"}

	assert.Len(t, a.ContentHash(), 64)
	assert.Equal(t, a.ContentHash(), b.ContentHash())
	assert.NotEqual(t, a.ContentHash(), c.ContentHash())
}

func TestMessage_IdempotencyKey(t *testing.T) {
	assert.Equal(t, "x:m1", Message{InstanceName: "x", MessageID: "m1"}.IdempotencyKey())
}
