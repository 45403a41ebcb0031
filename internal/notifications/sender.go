package notifications

import (
	"context"

	"github.com/respondr-uk/respondr/internal/domain"
)

// Notification is a rendered message addressed to one channel target.
type Notification struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers notifications over one channel type.
type Sender interface {
	Type() domain.ChannelType
	Send(ctx context.Context, notification Notification) error
}
