package core

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/metrics"
)

const roomsTopic = "rooms"

type EventType string

const (
	EventUpserted EventType = "upserted"
	EventDeleted  EventType = "deleted"
)

// RoomEvent is published after every commit that changed a room.
// Room is nil for deletions.
type RoomEvent struct {
	Type    EventType     `json:"type"`
	RoomID  domain.RoomID `json:"room_id"`
	Room    *domain.Room  `json:"room,omitempty"`
	Version uint64        `json:"version"`
}

// Feed fans committed changes out to in-process subscribers.
// Delivery order between two events is not guaranteed; subscribers fence on Version.
type Feed struct {
	pubsub *gochannel.GoChannel
}

func NewFeed() *Feed {
	return &Feed{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 256},
			zerologAdapter{logger: log.With().Str("module", "core.feed").Logger()},
		),
	}
}

func (f *Feed) Publish(ev RoomEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("room_id", string(ev.RoomID))
	msg.Metadata.Set("type", string(ev.Type))
	if err := f.pubsub.Publish(roomsTopic, msg); err != nil {
		return err
	}
	metrics.FeedEvents.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

// Subscribe delivers every event until ctx is done. fn runs on a single
// goroutine per subscription.
func (f *Feed) Subscribe(ctx context.Context, fn func(RoomEvent)) error {
	msgs, err := f.pubsub.Subscribe(ctx, roomsTopic)
	if err != nil {
		return err
	}
	go func() {
		for msg := range msgs {
			var ev RoomEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				log.Error().Err(err).Str("module", "core.feed").Str("msg", msg.UUID).Msg("bad event payload")
				msg.Ack()
				continue
			}
			msg.Ack()
			fn(ev)
		}
	}()
	return nil
}

func (f *Feed) Close() error { return f.pubsub.Close() }

// fence drops events older than the last one seen per room. A deletion
// carries the highest version of its room, so nothing stale follows it.
type fence struct {
	mu   sync.Mutex
	seen map[domain.RoomID]uint64
}

func newFence() *fence {
	return &fence{seen: make(map[domain.RoomID]uint64)}
}

func (f *fence) admit(ev RoomEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.Version <= f.seen[ev.RoomID] {
		return false
	}
	f.seen[ev.RoomID] = ev.Version
	return true
}

type zerologAdapter struct {
	logger zerolog.Logger
}

func (a zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error().Err(err).Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Debug().Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Trace().Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Trace().Fields(map[string]any(fields)).Msg(msg)
}

func (a zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return zerologAdapter{logger: a.logger.With().Fields(map[string]any(fields)).Logger()}
}
