package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	svc, err := NewService(mr.Addr())
	require.NoError(t, err)

	return svc, mr
}

func TestNewService(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	err := svc.Ping(context.Background())
	assert.NoError(t, err)
}

func TestPublish(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	roomID := "ROOM001"

	sub := svc.client.Subscribe(ctx, channelName(roomID))
	defer func() { _ = sub.Close() }()

	time.Sleep(50 * time.Millisecond)

	err := svc.Publish(ctx, roomID, "frame_committed", map[string]int{"frameIndex": 3})
	assert.NoError(t, err)

	msg, err := sub.ReceiveMessage(ctx)
	assert.NoError(t, err)

	var envelope Event
	err = json.Unmarshal([]byte(msg.Payload), &envelope)
	assert.NoError(t, err)

	assert.Equal(t, roomID, envelope.RoomID)
	assert.Equal(t, "frame_committed", envelope.Type)

	var data map[string]int
	assert.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, 3, data["frameIndex"])
}

func TestSubscribe(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	roomID := "ROOM0SUB"
	wg := &sync.WaitGroup{}

	received := make(chan Event, 1)
	handler := func(e Event) {
		received <- e
	}

	svc.Subscribe(ctx, roomID, wg, handler)

	time.Sleep(50 * time.Millisecond)

	evt := Event{RoomID: roomID, Type: "start_playback"}
	bytes, _ := json.Marshal(evt)
	svc.client.Publish(ctx, channelName(roomID), bytes)

	select {
	case e := <-received:
		assert.Equal(t, "start_playback", e.Type)
		assert.Equal(t, roomID, e.RoomID)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	cancel()
	wg.Wait()
}

func TestRedisFailure_Graceful(t *testing.T) {
	svc, mr := newTestService(t)

	mr.Close()

	ctx := context.Background()
	err := svc.Ping(ctx)
	assert.Error(t, err)
}

func TestPublish_CircuitBreakerOpen(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	mr.Close()

	for i := 0; i < 10; i++ {
		_ = svc.Publish(ctx, "ROOM0001", "frame_committed", map[string]int{})
	}

	// Circuit breaker should be open now (graceful degradation, never panics)
	err := svc.Publish(ctx, "ROOM0001", "frame_committed", map[string]int{})
	_ = err
}

func TestPublish_NilService(t *testing.T) {
	var svc *Service
	err := svc.Publish(context.Background(), "ROOM0001", "frame_committed", map[string]int{})
	assert.NoError(t, err)
}
