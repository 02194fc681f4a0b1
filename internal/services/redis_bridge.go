package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/primeestate/room-selection-backend/internal/config"
	"github.com/primeestate/room-selection-backend/internal/models"
)

// bridgeEnvelope wraps an event with the publishing instance's id so a
// subscriber can discard its own messages.
type bridgeEnvelope struct {
	Origin string                 `json:"origin"`
	Event  models.RoomChangeEvent `json:"event"`
}

// RedisBridge relays change events between server instances over a Redis
// pub/sub channel. It wraps the local hub: local commits publish to both
// the hub and Redis; events arriving from other instances are injected
// into the hub only.
type RedisBridge struct {
	client   *redis.Client
	channel  string
	instance string
	hub      *BroadcastService
	logger   *logrus.Logger
}

// NewRedisBridge connects to Redis and wraps the local hub
func NewRedisBridge(cfg config.RedisConfig, hub *BroadcastService, logger *logrus.Logger) (*RedisBridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisBridge{
		client:   client,
		channel:  cfg.Channel,
		instance: uuid.NewString(),
		hub:      hub,
		logger:   logger,
	}, nil
}

// Publish delivers the event locally and relays it to other instances.
// A Redis outage degrades to local-only delivery; it never fails the
// engine's commit.
func (b *RedisBridge) Publish(event models.RoomChangeEvent) {
	b.hub.Publish(event)

	payload, err := json.Marshal(bridgeEnvelope{Origin: b.instance, Event: event})
	if err != nil {
		b.logger.WithError(err).Error("Failed to encode bridge event")
		return
	}
	if err := b.client.Publish(context.Background(), b.channel, payload).Err(); err != nil {
		b.logger.WithError(err).Warn("Failed to relay event to redis")
	}
}

// Start consumes events from other instances until ctx is cancelled
func (b *RedisBridge) Start(ctx context.Context) {
	sub := b.client.Subscribe(ctx, b.channel)

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var envelope bridgeEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
					b.logger.WithError(err).Warn("Discarding malformed bridge event")
					continue
				}
				if envelope.Origin == b.instance {
					continue
				}
				b.hub.Publish(envelope.Event)
			}
		}
	}()
}

// Close releases the Redis connection
func (b *RedisBridge) Close() error {
	return b.client.Close()
}
