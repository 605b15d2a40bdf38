package webhook

import (
	"strings"
	"time"
)

type IgnoreReason string

const (
	ReasonNotAMessage      IgnoreReason = "not_a_message"
	ReasonGroupOrBroadcast IgnoreReason = "group_or_broadcast"
	ReasonNoMessage        IgnoreReason = "no_message"
	ReasonUnsupportedEvent IgnoreReason = "unsupported_event"
	ReasonFromMe           IgnoreReason = "from_me"
)

// DefaultAcceptedEvents são os nomes de "mensagem criada" do provedor.
var DefaultAcceptedEvents = []string{"messages.upsert", "MESSAGES_UPSERT"}

type Filter struct {
	accepted     map[string]struct{}
	ignoreFromMe bool
}

type FilterOption func(*Filter)

// WithAcceptedEvents troca a lista de eventos aceitos.
func WithAcceptedEvents(events ...string) FilterOption {
	return func(f *Filter) {
		f.accepted = make(map[string]struct{}, len(events))
		for _, e := range events {
			if n := eventName(e); n != "" {
				f.accepted[n] = struct{}{}
			}
		}
	}
}

// WithIgnoreFromMe controla o descarte das mensagens enviadas pela própria
// instância (eco das respostas do bot).
func WithIgnoreFromMe(ignore bool) FilterOption {
	return func(f *Filter) { f.ignoreFromMe = ignore }
}

func NewFilter(opts ...FilterOption) *Filter {
	f := &Filter{ignoreFromMe: true}
	WithAcceptedEvents(DefaultAcceptedEvents...)(f)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Result é o desfecho do filtro: ou Ignored com Reason, ou Message.
type Result struct {
	Ignored bool
	Reason  IgnoreReason
	Message Message
}

func ignored(r IgnoreReason) Result { return Result{Ignored: true, Reason: r} }

func (f *Filter) Apply(ev Event, receivedAt time.Time) Result {
	d := ev.Data
	if d == nil || d.Key == nil {
		return ignored(ReasonNotAMessage)
	}
	jid := d.Key.RemoteJid
	if jid == broadcastSentinel || strings.Contains(jid, groupMarker) {
		return ignored(ReasonGroupOrBroadcast)
	}
	if d.Message == nil {
		return ignored(ReasonNoMessage)
	}
	if _, ok := f.accepted[eventName(ev.Event)]; !ok {
		return ignored(ReasonUnsupportedEvent)
	}
	if f.ignoreFromMe && d.Key.FromMe {
		return ignored(ReasonFromMe)
	}
	return Result{Message: normalize(ev, receivedAt)}
}

// eventName compara sem caixa e sem separadores: messages.upsert == MESSAGES_UPSERT.
func eventName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", ".", "", "-", "").Replace(s)
}
