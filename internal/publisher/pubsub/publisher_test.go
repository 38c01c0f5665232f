package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishWithoutPublisherFails(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "t", map[string]int{"n": 1})
	require.ErrorContains(t, err, "not configured")
	require.NoError(t, New(nil).Close())
}

func TestConnectRequiresProjectAndTopic(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), "", "completions")
	require.Error(t, err)
	_, err = Connect(context.Background(), "proj", "")
	require.Error(t, err)
}
