// Package syncer glues environment signals to the outbox and the realtime
// channel. It owns no persistent state: it only routes reachability and
// visibility transitions, and re-triggers queue flushes when connectivity
// comes back.
package syncer

import (
	"context"
	"log/slog"
	"sync/atomic"

	"cellar/cmd/internal/outbox"
	"cellar/cmd/internal/realtime"
)

// Reachability is the shared network-state flag: platform glue feeds it
// through the Coordinator, the outbox reads it at flush time. It starts
// out online.
type Reachability struct {
	online atomic.Bool
}

// NewReachability returns a flag that reports online.
func NewReachability() *Reachability {
	r := &Reachability{}
	r.online.Store(true)
	return r
}

// Online reports the last known network state. It satisfies
// outbox.OnlineFunc.
func (r *Reachability) Online() bool { return r.online.Load() }

func (r *Reachability) set(online bool) { r.online.Store(online) }

// Config tunes coordinator behavior.
type Config struct {
	// FlushOnConnect re-triggers a queue flush whenever the channel
	// (re)connects, since reconnect usually correlates with regained
	// connectivity.
	FlushOnConnect bool

	// DisconnectOnOffline tears the channel down as soon as the network
	// goes away instead of waiting for the link to fail on its own.
	DisconnectOnOffline bool
}

// DefaultConfig enables flush-on-connect and leaves the channel to notice
// network loss by itself.
func DefaultConfig() Config {
	return Config{FlushOnConnect: true}
}

// Coordinator wires reachability and visibility signals to the queue and
// the channel.
type Coordinator struct {
	log     *slog.Logger
	queue   *outbox.Queue
	channel *realtime.Channel
	reach   *Reachability
	cfg     Config

	unsubscribe func()
}

// New constructs a coordinator and subscribes to channel connect events.
func New(log *slog.Logger, queue *outbox.Queue, channel *realtime.Channel, reach *Reachability, cfg Config) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if reach == nil {
		reach = NewReachability()
	}

	c := &Coordinator{
		log:     log,
		queue:   queue,
		channel: channel,
		reach:   reach,
		cfg:     cfg,
	}

	if channel != nil {
		c.unsubscribe = channel.Notify(func(ev realtime.Event) {
			if ev.Type == realtime.EventConnect && c.cfg.FlushOnConnect {
				c.log.Debug("sync.flush.on_connect")
				c.flush()
			}
		})
	}

	return c
}

// SetOnline routes a network reachability transition.
func (c *Coordinator) SetOnline(online bool) {
	c.reach.set(online)

	if online {
		c.log.Info("sync.network.online")
		if c.channel != nil {
			c.channel.Connect()
		}
		c.flush()
		return
	}

	c.log.Info("sync.network.offline")
	// The queue's own offline check stops flush passes; nothing to do
	// there. The channel may be torn down eagerly if configured.
	if c.cfg.DisconnectOnOffline && c.channel != nil {
		c.channel.Disconnect()
	}
}

// SetVisible routes a foreground/background transition to the channel.
func (c *Coordinator) SetVisible(visible bool) {
	if c.channel != nil {
		c.channel.SetVisibility(visible)
	}
}

// Close detaches the channel subscription.
func (c *Coordinator) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

func (c *Coordinator) flush() {
	if c.queue == nil {
		return
	}
	go func() {
		if _, err := c.queue.Flush(context.Background()); err != nil {
			c.log.Error("sync.flush.fail", "err", err)
		}
	}()
}
