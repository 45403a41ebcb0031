package domain

// ChannelType identifies a notification delivery channel.
type ChannelType string

// Channel types.
const (
	ChannelTypeEmail      ChannelType = "email"
	ChannelTypeTelegram   ChannelType = "telegram"
	ChannelTypeMattermost ChannelType = "mattermost"
)

// IsValid checks if the channel type is valid.
func (t ChannelType) IsValid() bool {
	switch t {
	case ChannelTypeEmail, ChannelTypeTelegram, ChannelTypeMattermost:
		return true
	}
	return false
}

// NotificationChannel is a statically configured delivery target.
type NotificationChannel struct {
	Type   ChannelType `json:"type" koanf:"type"`
	Target string      `json:"target" koanf:"target"`
}
