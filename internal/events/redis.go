package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
)

const (
	publishTimeout = 2 * time.Second
	publishQueue   = 256
)

// RedisBridge forwards local publications to other instances over a Redis
// channel and turns remote notices into local wakeups.
type RedisBridge struct {
	client   *redis.Client
	channel  string
	instance string
	feed     *Feed
	log      *slog.Logger
	outbox   chan []byte
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisBridge(client *redis.Client, channel, instance string, feed *Feed, logger *slog.Logger) *RedisBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBridge{
		client:   client,
		channel:  channel,
		instance: instance,
		feed:     feed,
		log:      logger,
		outbox:   make(chan []byte, publishQueue),
	}
}

// Publish wakes local subscriptions and queues an announcement for peers. It
// never waits on Redis: when the queue is full the notice is dropped, which
// only delays peers until their next poll.
func (b *RedisBridge) Publish(evts ...domain.Event) {
	b.feed.Publish(evts...)
	if len(evts) == 0 {
		return
	}
	n := Notice{Instance: b.instance, Events: make([]NoticeEvent, 0, len(evts))}
	for _, evt := range evts {
		n.Events = append(n.Events, NoticeEvent{ID: evt.ID, ProjectID: evt.ProjectID, WorkerID: evt.WorkerID})
	}
	data, err := EncodeNotice(n)
	if err != nil {
		b.log.Warn("bridge: encode notice", "err", err)
		return
	}
	select {
	case b.outbox <- data:
	default:
		b.log.Warn("bridge: publish queue full, dropping notice", "channel", b.channel, "events", len(evts))
	}
}

// Run sends queued notices and relays remote ones until ctx ends.
func (b *RedisBridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		b.drain(ctx)
	}()
	defer func() {
		cancel()
		<-drained
	}()
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle([]byte(msg.Payload))
		}
	}
}

func (b *RedisBridge) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-b.outbox:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := b.client.Publish(pctx, b.channel, data).Err()
			cancel()
			if err != nil && ctx.Err() == nil {
				b.log.Warn("bridge: publish", "channel", b.channel, "err", err)
			}
		}
	}
}

func (b *RedisBridge) handle(data []byte) {
	n, err := DecodeNotice(data)
	if err != nil {
		b.log.Warn("bridge: decode notice", "err", err)
		return
	}
	if n.Instance == b.instance {
		return
	}
	evts := make([]domain.Event, 0, len(n.Events))
	for _, e := range n.Events {
		evts = append(evts, domain.Event{ID: e.ID, ProjectID: e.ProjectID, WorkerID: e.WorkerID})
	}
	b.feed.Publish(evts...)
}
