// Package distributor dispatches events to the subscribers of a repository.
//
// Delivery is demand driven: a subscriber announces via Subscription.Ask how
// many events it is ready to receive. Events exceeding the demand are
// withheld in a bounded per-subscription buffer. Each subscription has its
// own lock, a subscriber that stops asking for events never delays delivery
// to other subscribers.
package distributor

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/logfields"
)

const loggerName = "distributor"

// DefMaxBuffered is the default maximum number of withheld events per
// subscription.
const DefMaxBuffered = 1000

var (
	// ErrUnknownRepository is returned when an event is published for a
	// repository that has no subscribers.
	ErrUnknownRepository = errors.New("no subscriber for repository")
	// ErrBufferFull is returned when an event could not be buffered
	// because a subscriber has too many withheld events.
	ErrBufferFull = errors.New("subscriber event buffer is full")
)

type Distributor struct {
	logger      *zap.Logger
	maxBuffered int

	mu   sync.RWMutex
	subs map[event.RepositoryID][]*Subscription
}

// New creates a Distributor. maxBuffered is the maximum number of events
// that are withheld per subscription, if it is <=0 DefMaxBuffered is used.
func New(maxBuffered int) *Distributor {
	if maxBuffered <= 0 {
		maxBuffered = DefMaxBuffered
	}

	return &Distributor{
		logger:      zap.L().Named(loggerName),
		maxBuffered: maxBuffered,
		subs:        map[event.RepositoryID][]*Subscription{},
	}
}

// Subscribe registers a subscriber for events of repo.
// capacity is the size of the channel events are delivered to. The
// subscription starts without demand, no event is delivered before Ask is
// called.
func (d *Distributor) Subscribe(repo event.RepositoryID, capacity int) *Subscription {
	if capacity < 1 {
		panic(fmt.Sprintf("capacity is %d, must be >=1", capacity))
	}

	sub := &Subscription{
		repo:        repo,
		ch:          make(chan *event.Event, capacity),
		maxBuffered: d.maxBuffered,
	}

	d.mu.Lock()
	d.subs[repo] = append(d.subs[repo], sub)
	d.mu.Unlock()

	d.logger.Debug(
		"subscription created",
		logfields.Event("subscription_created"),
		logfields.RepositoryOwner(repo.Owner),
		logfields.Repository(repo.Name),
		zap.Int("capacity", capacity),
	)

	return sub
}

// Unsubscribe removes the subscription and closes its channel.
// Withheld events are discarded.
func (d *Distributor) Unsubscribe(sub *Subscription) {
	d.mu.Lock()
	subs := d.subs[sub.repo]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}

	if len(subs) == 0 {
		delete(d.subs, sub.repo)
	} else {
		d.subs[sub.repo] = subs
	}
	d.mu.Unlock()

	discarded := sub.close()

	d.logger.Debug(
		"subscription removed",
		logfields.Event("subscription_removed"),
		logfields.RepositoryOwner(sub.repo.Owner),
		logfields.Repository(sub.repo.Name),
		zap.Int("discarded_events", discarded),
	)
}

// Publish dispatches ev to all subscriptions of ev.Repository.
// If no subscription exists, the event is dropped and ErrUnknownRepository
// is returned. If the event could not be buffered for a subscription,
// ErrBufferFull is returned, other subscriptions still receive it.
func (d *Distributor) Publish(ev *event.Event) error {
	logger := d.logger.With(ev.LogFields()...)

	d.mu.RLock()
	subs := d.subs[ev.Repository]
	d.mu.RUnlock()

	if len(subs) == 0 {
		metrics.EventsInc(ev.Repository, resultLabelUnroutableVal)
		logger.Debug(
			"event dropped, no pipeline for repository",
			logfields.Event("event_dropped_unknown_repository"),
		)

		return fmt.Errorf("%w: %s", ErrUnknownRepository, ev.Repository)
	}

	var result error
	for _, sub := range subs {
		if err := sub.offer(ev); err != nil {
			metrics.EventsInc(ev.Repository, resultLabelDroppedVal)
			logger.Warn(
				"event dropped, subscriber buffer is full",
				logfields.Event("event_dropped_buffer_full"),
				zap.Int("buffered_events", sub.Pending()),
			)

			result = err
			continue
		}

		metrics.EventsInc(ev.Repository, resultLabelDeliveredVal)
	}

	return result
}

// Repositories returns the repositories that have at least one subscriber.
func (d *Distributor) Repositories() []event.RepositoryID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]event.RepositoryID, 0, len(d.subs))
	for repo := range d.subs {
		result = append(result, repo)
	}

	return result
}
