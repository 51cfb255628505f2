package broker_test

import (
	"context"
	"testing"

	"github.com/md-rashed-zaman/eventrelay/libs/broker"
	"github.com/md-rashed-zaman/eventrelay/libs/broker/membroker"
	"github.com/stretchr/testify/require"
)

func TestSenderDeclaresAndPublishesPersistentJSON(t *testing.T) {
	b := membroker.New()
	s := broker.NewSender(b, broker.DefaultQueueOptions(), nil)
	defer s.Close()

	msg := broker.NewJSONPublishing("evt-1", "UserCreated", []byte(`{"Id":"1"}`))
	msg.Headers["x-origin"] = "test"
	require.NoError(t, s.Send(context.Background(), "user_created_queue", msg))

	got := b.Messages("user_created_queue")
	require.Len(t, got, 1)
	require.Equal(t, broker.ContentTypeJSON, got[0].ContentType)
	require.True(t, got[0].Persistent)
	require.Equal(t, "evt-1", got[0].MessageID)
	require.Equal(t, "test", got[0].Headers["x-origin"])
	require.Equal(t, 1, b.Declarations("user_created_queue"))
	require.Len(t, msg.Headers, 1, "caller headers must not be modified")
}

func TestSenderRedialsAfterConnectivityFailure(t *testing.T) {
	b := membroker.New()
	s := broker.NewSender(b, broker.DefaultQueueOptions(), nil)
	ctx := context.Background()

	require.NoError(t, s.Send(ctx, "q", broker.NewJSONPublishing("1", "T", []byte(`{}`))))
	b.Sever()

	err := s.Send(ctx, "q", broker.NewJSONPublishing("2", "T", []byte(`{}`)))
	require.True(t, broker.IsConnectivity(err))

	require.NoError(t, s.Send(ctx, "q", broker.NewJSONPublishing("3", "T", []byte(`{}`))))
	require.Equal(t, 2, b.Dials())
	require.Equal(t, 2, b.Published("q"))
}

func TestConnectivityWrapping(t *testing.T) {
	err := broker.Connectivity("dial", context.DeadlineExceeded)
	require.True(t, broker.IsConnectivity(err))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Nil(t, broker.Connectivity("dial", nil))
	require.Equal(t, "user_created_queue_dead_letter", broker.DeadLetterQueue("user_created_queue"))
}
