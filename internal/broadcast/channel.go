package broadcast

import (
	"context"
	"errors"

	"songbot/internal/transport"
)

// TransportChannel delivers broadcast content as a plain chat message
// through a transport adapter.
type TransportChannel struct {
	adapter transport.Adapter
}

func NewTransportChannel(a transport.Adapter) *TransportChannel {
	return &TransportChannel{adapter: a}
}

func (c *TransportChannel) Deliver(ctx context.Context, recipient int64, content Content) error {
	if c == nil || c.adapter == nil {
		return errors.New("broadcast: no transport adapter")
	}
	_, err := c.adapter.SendText(ctx, transport.ChatTarget{ChatID: recipient}, content.Text, &transport.SendOptions{
		ParseMode:      content.ParseMode,
		DisablePreview: content.DisablePreview,
	})
	return err
}
