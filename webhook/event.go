package webhook

import (
	"bytes"
	"encoding/json"

	"webhook-gateway/apierr"
)

// Event é o envelope enviado pelo provedor.
type Event struct {
	Instance    string `json:"instance"`
	Event       string `json:"event"`
	DateTime    string `json:"date_time,omitempty"`
	Sender      string `json:"sender,omitempty"`
	ServerURL   string `json:"server_url,omitempty"`
	Destination string `json:"destination,omitempty"`

	// Data só é preenchido quando "data" é um objeto.
	Data *EventData `json:"-"`
}

type EventData struct {
	Key         *MessageKey     `json:"key"`
	PushName    string          `json:"pushName"`
	Message     *MessageContent `json:"message"`
	MessageType string          `json:"messageType,omitempty"`
}

type MessageKey struct {
	RemoteJid string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

type MessageContent struct {
	Conversation        string               `json:"conversation,omitempty"`
	ExtendedTextMessage *ExtendedTextMessage `json:"extendedTextMessage,omitempty"`
}

type ExtendedTextMessage struct {
	Text string `json:"text"`
}

// ParseEvent decodifica o corpo cru. JSON inválido, ou um "data" objeto com
// campos de tipo errado, vira erro de validação (400). Um "data" que não é
// objeto (lista, string) não é erro: o evento apenas não é mensagem.
func ParseEvent(body []byte) (Event, error) {
	var raw struct {
		Event
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Event{}, apierr.Wrap(apierr.KindValidation, "malformed event payload", err)
	}

	ev := raw.Event
	data := bytes.TrimSpace(raw.Data)
	if len(data) > 0 && data[0] == '{' {
		var d EventData
		if err := json.Unmarshal(data, &d); err != nil {
			return Event{}, apierr.Wrap(apierr.KindValidation, "malformed event data", err)
		}
		ev.Data = &d
	}
	return ev, nil
}
