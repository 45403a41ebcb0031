package notifications

import (
	"context"
	"fmt"

	"github.com/respondr-uk/respondr/internal/domain"
)

// Dispatcher routes rendered notifications to the sender of their channel type.
type Dispatcher struct {
	senders map[domain.ChannelType]Sender
}

// NewDispatcher creates a new notification dispatcher.
func NewDispatcher(senders ...Sender) *Dispatcher {
	senderMap := make(map[domain.ChannelType]Sender)
	for _, s := range senders {
		senderMap[s.Type()] = s
	}
	return &Dispatcher{senders: senderMap}
}

// Supports reports whether a sender is registered for the channel type.
func (d *Dispatcher) Supports(channelType domain.ChannelType) bool {
	_, ok := d.senders[channelType]
	return ok
}

// SendToChannel sends one notification. A missing sender is a permanent error.
func (d *Dispatcher) SendToChannel(ctx context.Context, channelType domain.ChannelType, notification Notification) error {
	sender, ok := d.senders[channelType]
	if !ok {
		return NewNonRetryableError(fmt.Errorf("%w: %s", ErrNoSender, channelType))
	}
	return sender.Send(ctx, notification)
}
