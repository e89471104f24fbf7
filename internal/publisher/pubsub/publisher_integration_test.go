package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	gcppublisher "github.com/JakeFAU/serp-rank-tracker/internal/publisher/pubsub"
)

func TestPublisherDeliversToFakeServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "rank-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	topic, err := client.CreateTopic(ctx, "ranking-snapshots")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "ranking-snapshots-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub, err := gcppublisher.New(client)
	require.NoError(t, err)
	defer pub.Close()

	id, err := pub.Publish(ctx, "ranking-snapshots", map[string]any{"snapshot_id": "snap-1", "found": 1})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	received := make(chan *pubsub.Message, 1)
	recvCtx, stopRecv := context.WithCancel(ctx)
	defer stopRecv()
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			select {
			case received <- msg:
			default:
			}
			stopRecv()
		})
	}()

	select {
	case msg := <-received:
		assert.Equal(t, "application/json", msg.Attributes["content_type"])
		var body map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &body))
		assert.Equal(t, "snap-1", body["snapshot_id"])
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}
