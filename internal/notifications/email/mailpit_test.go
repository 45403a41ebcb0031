//go:build integration

package email

import (
	"context"
	"testing"
	"time"

	"github.com/respondr-uk/respondr/internal/notifications"
	"github.com/respondr-uk/respondr/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSender_DeliversToMailpit(t *testing.T) {
	ctx := context.Background()

	mailpit, err := testutil.NewMailpitContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mailpit.Terminate(ctx) })

	sender, err := NewSender(Config{
		Enabled:     true,
		SMTPHost:    mailpit.SMTPHost,
		SMTPPort:    mailpit.SMTPPort,
		FromAddress: "respondr@example.com",
	})
	require.NoError(t, err)

	err = sender.Send(ctx, notifications.Notification{
		To:      "oncall@example.com, lead@example.com",
		Subject: "[INC-001 High] Gateway errors",
		Body:    "Customers see 502 errors",
	})
	require.NoError(t, err)

	client := testutil.NewMailpitClient(mailpit.APIHost, mailpit.APIPort)
	messages, err := client.WaitForMessages(1, 10*time.Second)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	msg := messages[0]
	assert.Equal(t, "[INC-001 High] Gateway errors", msg.Subject)
	assert.Equal(t, "respondr@example.com", msg.From.Address)
	assert.Len(t, msg.To, 2)
	assert.Contains(t, msg.Snippet, "Customers see 502 errors")
}
