package webhook

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

const (
	UnsupportedText = "[Mensagem não suportada]"
	NoNameText      = "Sem nome"

	userSuffix        = "@s.whatsapp.net"
	groupMarker       = "@g.us"
	broadcastSentinel = "status@broadcast"
)

// Message é a única forma que os estágios seguintes enxergam.
type Message struct {
	MessageID    string    `json:"messageId"`
	InstanceName string    `json:"instanceName"`
	RemoteJid    string    `json:"remoteJid"`
	SenderPhone  string    `json:"senderPhone"`
	SenderName   string    `json:"senderName"`
	Text         string    `json:"text"`
	Event        string    `json:"event"`
	ReceivedAt   time.Time `json:"receivedAt"`
}

// ContentHash é o BLAKE3 (hex) do texto. Vazio para mensagens sem texto
// suportado, que não entram na checagem de conteúdo duplicado.
func (m Message) ContentHash() string {
	if m.Text == "" || m.Text == UnsupportedText {
		return ""
	}
	sum := blake3.Sum256([]byte(m.Text))
	return hex.EncodeToString(sum[:])
}

// IdempotencyKey identifica a mensagem para o motor: instance:messageId.
func (m Message) IdempotencyKey() string {
	return m.InstanceName + ":" + m.MessageID
}

func normalize(ev Event, receivedAt time.Time) Message {
	d := ev.Data

	text := ""
	if d.Message != nil {
		text = d.Message.Conversation
		if text == "" && d.Message.ExtendedTextMessage != nil {
			text = d.Message.ExtendedTextMessage.Text
		}
	}
	if text == "" {
		text = UnsupportedText
	}

	name := strings.TrimSpace(d.PushName)
	if name == "" {
		name = NoNameText
	}

	id := strings.TrimSpace(d.Key.ID)
	if id == "" {
		id = autoID(receivedAt)
	}

	return Message{
		MessageID:    id,
		InstanceName: ev.Instance,
		RemoteJid:    d.Key.RemoteJid,
		SenderPhone:  strings.TrimSuffix(d.Key.RemoteJid, userSuffix),
		SenderName:   name,
		Text:         text,
		Event:        ev.Event,
		ReceivedAt:   receivedAt,
	}
}

// autoID identifica eventos sem data.key.id. Sem isso todos cairiam na mesma
// chave do anti-loop e seriam contados como reenvios de uma única mensagem.
func autoID(at time.Time) string {
	return "auto-" + strconv.FormatInt(at.UnixMilli(), 10) + "-" + uuid.NewString()[:8]
}
