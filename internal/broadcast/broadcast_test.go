package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"relay/pkg/domain"
	dErrors "relay/pkg/domain-errors"
)

func TestGroupKey(t *testing.T) {
	key, err := GroupKey("u1")
	require.NoError(t, err)
	assert.Equal(t, "u1_group", key)

	for _, bad := range []domain.UserID{"", "u1.*", "a b", "u1_group>", "x/y"} {
		_, err := GroupKey(bad)
		assert.Error(t, err, "user id %q", bad)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	}
}

func TestCodec_EmbedsGroup(t *testing.T) {
	msg := NewNotification(map[string]any{"status": "SUCCESS", "message": "event completed"})
	msg.Group = "u1_group"

	raw, err := Encode(msg)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, msgpack.Unmarshal(raw, &wire))
	assert.Equal(t, "u1_group", wire["__group__"])
	assert.Equal(t, "send_notification", wire["type"])

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestDecode_RejectsIncomplete(t *testing.T) {
	raw, err := msgpack.Marshal(map[string]any{"type": "send_notification"})
	require.NoError(t, err)
	_, err = Decode(raw)
	assert.Error(t, err)

	_, err = Decode([]byte{0xc1})
	assert.Error(t, err)
}

func receive(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func assertNothing(t *testing.T, sub Subscription) {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryHub_GroupFanOut(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()

	a, err := hub.Subscribe(ctx, "u1_group")
	require.NoError(t, err)
	b, err := hub.Subscribe(ctx, "u1_group")
	require.NoError(t, err)
	other, err := hub.Subscribe(ctx, "u2_group")
	require.NoError(t, err)
	assert.Equal(t, 2, hub.Members("u1_group"))

	data := map[string]any{"status": "SUCCESS", "message": "event completed"}
	require.NoError(t, hub.Publish(ctx, "u1_group", NewNotification(data)))

	gotA := receive(t, a)
	gotB := receive(t, b)
	assert.Equal(t, gotA, gotB)
	assert.Equal(t, "u1_group", gotA.Group)
	assert.Equal(t, TypeSendNotification, gotA.Type)
	assert.Equal(t, "event completed", gotA.Data["message"])
	assertNothing(t, other)
}

func TestMemoryHub_CloseLeavesGroup(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()

	sub, err := hub.Subscribe(ctx, "u1_group")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, hub.Members("u1_group"))

	_, open := <-sub.Messages()
	assert.False(t, open)

	// publishing to an empty group is not an error
	require.NoError(t, hub.Publish(ctx, "u1_group", ExitSignal()))
}

func TestMemoryHub_RejectsInvalidGroup(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()

	err := hub.Publish(ctx, "u1.>", NewNotification(nil))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = hub.Subscribe(ctx, "no-suffix")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestMemoryHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	sub, err := hub.Subscribe(ctx, "u1_group")
	require.NoError(t, err)
	defer sub.Close()

	for range subscriptionBuffer + 10 {
		require.NoError(t, hub.Publish(ctx, "u1_group", NewNotification(map[string]any{"n": 1})))
	}
	assert.Len(t, sub.Messages(), subscriptionBuffer)
}
