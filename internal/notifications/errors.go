package notifications

import "errors"

// Queue errors.
var (
	ErrQueueItemNotFound = errors.New("notification queue item not found")
	ErrNoSender          = errors.New("no sender configured for channel type")
)
