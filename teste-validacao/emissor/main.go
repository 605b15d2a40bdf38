// emissor simula o provedor de mensagens: envia eventos assinados para o
// gateway e mostra o que voltou. Serve para validar à mão o anti-loop
// (mesmo ID repetido) e o rate limit (rajada).
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"webhook-gateway/middleware/signature"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type options struct {
	url       string
	secret    string
	instance  string
	remoteJid string
	text      string
	messageID string
	repeat    int
	interval  time.Duration
	clientID  string
}

func main() {
	var o options

	cmd := &cobra.Command{
		Use:   "emissor",
		Short: "Send signed messages.upsert events to the gateway",
		Long: `Send signed messages.upsert events to the gateway.

  emissor --repeat 7                 # mesmo messageId 7x: loop a partir do 6º
  emissor --repeat 40 --new-ids      # ids novos: esbarra no rate limit`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			newIDs, _ := cmd.Flags().GetBool("new-ids")
			return run(cmd.OutOrStdout(), o, newIDs)
		},
		SilenceUsage: true,
	}

	f := cmd.Flags()
	f.StringVar(&o.url, "url", "http://localhost:8080/webhook/principal", "gateway webhook URL")
	f.StringVar(&o.secret, "secret", os.Getenv("WEBHOOK_SECRET"), "shared webhook secret (default $WEBHOOK_SECRET)")
	f.StringVar(&o.instance, "instance", "teste", "provider instance name")
	f.StringVar(&o.remoteJid, "jid", "5511999990000@s.whatsapp.net", "sender remoteJid")
	f.StringVar(&o.text, "text", "Olá, tudo bem?", "message text")
	f.StringVar(&o.messageID, "id", "", "message id (default random)")
	f.IntVarP(&o.repeat, "repeat", "n", 1, "how many times to send")
	f.DurationVar(&o.interval, "interval", 200*time.Millisecond, "pause between sends")
	f.StringVar(&o.clientID, "client-id", "emissor", "X-Client-ID header")
	f.Bool("new-ids", false, "use a new message id (and text) on every send")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type event struct {
	Instance string    `json:"instance"`
	Event    string    `json:"event"`
	DateTime string    `json:"date_time"`
	Data     eventData `json:"data"`
}

type eventData struct {
	Key struct {
		RemoteJid string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName string `json:"pushName"`
	Message  struct {
		Conversation string `json:"conversation"`
	} `json:"message"`
}

func buildEvent(o options, id, text string, now time.Time) ([]byte, error) {
	ev := event{
		Instance: o.instance,
		Event:    "messages.upsert",
		DateTime: now.UTC().Format(time.RFC3339),
	}
	ev.Data.Key.RemoteJid = o.remoteJid
	ev.Data.Key.ID = id
	ev.Data.PushName = "Emissor"
	ev.Data.Message.Conversation = text
	return json.Marshal(ev)
}

func newRequest(o options, body []byte, now time.Time) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-ID", o.clientID)
	if o.secret != "" {
		ts := signature.Timestamp(now)
		req.Header.Set(signature.HeaderTimestamp, ts)
		req.Header.Set(signature.HeaderSignature, signature.NewValidator(o.secret).Sign(ts, body))
	}
	return req, nil
}

func run(out io.Writer, o options, newIDs bool) error {
	client := &http.Client{Timeout: 2 * time.Minute}
	id := o.messageID
	if id == "" {
		id = uuid.NewString()
	}

	for i := 1; i <= o.repeat; i++ {
		msgID, text := id, o.text
		if newIDs && i > 1 {
			msgID = uuid.NewString()
			text = fmt.Sprintf("%s (%d)", o.text, i)
		}

		now := time.Now()
		body, err := buildEvent(o, msgID, text, now)
		if err != nil {
			return err
		}
		req, err := newRequest(o, body, now)
		if err != nil {
			return err
		}

		resp, err := client.Do(req)
		if err != nil {
			fmt.Fprintf(out, "#%d %s erro: %v\n", i, msgID, err)
		} else {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			_ = resp.Body.Close()
			fmt.Fprintf(out, "#%d %s -> %d count=%s %s\n",
				i, msgID, resp.StatusCode, resp.Header.Get("X-Processing-Count"), bytes.TrimSpace(respBody))
		}

		if i < o.repeat {
			time.Sleep(o.interval)
		}
	}
	return nil
}
