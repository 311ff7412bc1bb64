package linker

import (
	"context"
	"errors"
	"fmt"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"redx-pair/internal/session"
)

// sendText sends a plain conversation message.
func sendText(ctx context.Context, client Client, to types.JID, text string) error {
	msg := &waE2E.Message{
		Conversation: proto.String(text),
	}
	if _, err := client.SendMessage(ctx, to, msg); err != nil {
		return fmt.Errorf("error sending message to %s: %w", to, err)
	}
	return nil
}

// deliverCreds reads creds.json from the workspace and sends the session string to the
// linked account's own chat: title first, then the session string, then the optional banner.
// A missing creds.json yields session.ErrNoCreds and nothing is sent.
func (a *attempt) deliverCreds(ctx context.Context) error {
	if a.conn.Device == nil || a.conn.Device.ID == nil {
		return errors.New("device has no JID after linking")
	}
	own := a.conn.Device.ID.ToNonAD()

	raw, err := a.ws.ReadCreds()
	if err != nil {
		return err
	}

	opts := a.l.opts
	texts := []string{opts.Title, session.Encode(opts.Prefix, raw)}
	if opts.Banner != "" {
		texts = append(texts, opts.Banner)
	}
	for _, text := range texts {
		if text == "" {
			continue
		}
		if err := sendText(ctx, a.conn.Client, own, text); err != nil {
			return err
		}
	}
	a.log.Info("Session credentials delivered", zap.String("phone", own.User))
	return nil
}
