// Package bus provides an optional cross-process broadcast path so that
// multiple server processes sharing one DATA_DIR can forward
// frame_committed and start_playback events to connections attached on a
// different process. A nil *Service is a valid no-op single-instance bus.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Event is the envelope carried over the pub/sub channel for one room.
// Origin identifies the publishing process so a subscriber can recognize
// and discard its own published events instead of rebroadcasting a
// frame it already broadcast locally.
type Event struct {
	RoomID string          `json:"roomId"`
	Type   string          `json:"type"` // "frame_committed" | "start_playback"
	Data   json.RawMessage `json:"data"`
	Origin string          `json:"origin"`
}

// Service wraps a Redis client with a circuit breaker so a degraded Redis
// only disables cross-process fan-out, never the local room protocol.
type Service struct {
	client     *redis.Client
	cb         *gobreaker.CircuitBreaker
	instanceID string
}

// NewService dials Redis and verifies connectivity before returning.
func NewService(addr string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "broadcast-bus",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.Set(stateVal)
		},
	}

	slog.Info("connected to redis broadcast bus", "addr", addr)
	return &Service{client: rdb, cb: gobreaker.NewCircuitBreaker(st), instanceID: uuid.New().String()}, nil
}

// Origin returns this process's unique bus instance ID, stamped onto
// every event this Service publishes.
func (s *Service) Origin() string {
	if s == nil {
		return ""
	}
	return s.instanceID
}

func channelName(roomID string) string {
	return fmt.Sprintf("anim5s:room:%s", roomID)
}

// Publish broadcasts one room event to every other process subscribed to
// that room's channel. A nil Service or a circuit in the open state
// degrades to a no-op returning nil: the caller's local broadcast already
// reached every connection on this process. A marshal or transport error
// is counted, logged and returned to the caller.
func (s *Service) Publish(ctx context.Context, roomID, eventType string, data any) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		inner, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal bus payload: %w", err)
		}
		evt := Event{RoomID: roomID, Type: eventType, Data: inner, Origin: s.instanceID}
		payload, err := json.Marshal(evt)
		if err != nil {
			return nil, fmt.Errorf("marshal bus envelope: %w", err)
		}
		return nil, s.client.Publish(ctx, channelName(roomID), payload).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.BusPublishTotal.WithLabelValues("breaker_open").Inc()
			slog.Warn("broadcast bus circuit open, dropping publish", "roomId", roomID, "event", eventType)
			return nil
		}
		metrics.BusPublishTotal.WithLabelValues("error").Inc()
		slog.Error("broadcast bus publish failed", "roomId", roomID, "event", eventType, "error", err)
		return err
	}

	metrics.BusPublishTotal.WithLabelValues("ok").Inc()
	return nil
}

// Subscribe starts a background goroutine forwarding every Event received
// on roomID's channel to handler, until ctx is cancelled. No-op on a nil
// Service.
func (s *Service) Subscribe(ctx context.Context, roomID string, wg *sync.WaitGroup, handler func(Event)) {
	if s == nil || s.client == nil {
		return
	}

	channel := channelName(roomID)
	pubsub := s.client.Subscribe(ctx, channel)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		slog.Info("subscribed to broadcast bus channel", "channel", channel)
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					slog.Warn("broadcast bus subscription channel closed", "channel", channel)
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					slog.Error("failed to unmarshal broadcast bus message", "error", err, "raw", msg.Payload)
					continue
				}
				handler(evt)
			}
		}
	}()
}

// Ping checks Redis connectivity for health reporting.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err != nil && err != gobreaker.ErrOpenState {
		return err
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
