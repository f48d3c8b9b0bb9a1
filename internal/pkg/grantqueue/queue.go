package grantqueue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/aimanhazmi/GroupGate/internal/pkg/cache"
)

const (
	// DefaultQueueSize bounds the work queue. A full queue rejects instead
	// of blocking the webhook-serving goroutine indefinitely.
	DefaultQueueSize = 64

	// Redis stats hash
	StatsKey     = "grant_stats"
	StatGranted  = "granted"
	StatFailed   = "failed"
	StatNotified = "notified"
	StatApproved = "approved"
)

var (
	ErrQueueFull    = errors.New("grant queue is full")
	ErrQueueStopped = errors.New("grant queue is stopped")
)

// Queue is the bridge between the synchronous webhook handlers and the
// Telegram client. A single consumer goroutine drains it and is the only
// code that drives the client; submitters of grant work block on a per-item
// result channel.
type Queue struct {
	granter *Granter
	items   chan *Work
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stats   bool
}

// NewQueue creates a grant queue. size <= 0 selects DefaultQueueSize.
func NewQueue(granter *Granter, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		granter: granter,
		items:   make(chan *Work, size),
		stopCh:  make(chan struct{}),
		stats:   true,
	}
}

// Start starts the single consumer.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}
	q.running = true

	log.Info("[GrantQueue] Starting consumer")
	q.wg.Add(1)
	go q.consume()
}

// Stop stops the consumer and fails outstanding grant items with
// ErrQueueStopped so no submitter blocks forever. The lifecycle lock is
// released before waiting: an in-flight grant can take many seconds to
// settle and new submits must fail fast during that window, not block.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	log.Info("[GrantQueue] Stopping consumer...")
	close(q.stopCh)
	q.running = false
	q.mu.Unlock()

	q.wg.Wait()
	log.Info("[GrantQueue] Consumer stopped")
}

// SubmitGrant queues a grant for userID and returns the result channel the
// caller must receive from. The consumer guarantees exactly one Result per
// submitted item.
func (q *Queue) SubmitGrant(ctx context.Context, userID int64, provider, reference string) (<-chan Result, error) {
	w := &Work{
		ID:         uuid.New().String(),
		Type:       WorkTypeGrant,
		UserID:     userID,
		Provider:   provider,
		Reference:  reference,
		EnqueuedAt: time.Now(),
		result:     make(chan Result, 1),
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.enqueue(w); err != nil {
		return nil, err
	}
	log.Infof("[GrantQueue] Enqueued grant %s for user %d (%s/%s)", w.ID, userID, provider, reference)
	return w.result, nil
}

// enqueue adds w under the lifecycle lock so a Submit racing Stop either
// lands before the drain or is rejected, never stranded.
func (q *Queue) enqueue(w *Work) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return ErrQueueStopped
	}
	select {
	case q.items <- w:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitNotify queues a fire-and-forget direct message.
func (q *Queue) SubmitNotify(userID int64, text string) error {
	w := &Work{
		ID:         uuid.New().String(),
		Type:       WorkTypeNotify,
		UserID:     userID,
		Text:       text,
		EnqueuedAt: time.Now(),
	}

	return q.enqueue(w)
}

// SubmitApprove queues a join-request approval for a user who already holds
// a grant.
func (q *Queue) SubmitApprove(userID int64) error {
	w := &Work{
		ID:         uuid.New().String(),
		Type:       WorkTypeApprove,
		UserID:     userID,
		EnqueuedAt: time.Now(),
	}

	return q.enqueue(w)
}

func (q *Queue) consume() {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			q.drain()
			return
		case w := <-q.items:
			q.process(w)
		}
	}
}

// drain answers every still-queued grant item after Stop so no webhook
// goroutine is left blocking on its result channel.
func (q *Queue) drain() {
	for {
		select {
		case w := <-q.items:
			if w.Type == WorkTypeGrant {
				w.result <- Result{Err: ErrQueueStopped}
			}
		default:
			return
		}
	}
}

func (q *Queue) process(w *Work) {
	ctx := context.Background()

	switch w.Type {
	case WorkTypeGrant:
		outcome, err := q.granter.Grant(ctx, w.UserID)
		if err != nil {
			q.incrStat(StatFailed)
			log.Errorf("[GrantQueue] Work %s failed: %v", w.ID, err)
		} else {
			q.incrStat(StatGranted)
			log.Infof("[GrantQueue] Work %s granted access for user %d", w.ID, w.UserID)
		}
		w.result <- Result{Outcome: outcome, Err: err}

	case WorkTypeNotify:
		if err := q.granter.Notify(ctx, w.UserID, w.Text); err != nil {
			log.Errorf("[GrantQueue] Notify %s for user %d failed: %v", w.ID, w.UserID, err)
		} else {
			q.incrStat(StatNotified)
		}

	case WorkTypeApprove:
		if err := q.granter.Approve(ctx, w.UserID); err != nil {
			log.Errorf("[GrantQueue] Approve %s for user %d failed: %v", w.ID, w.UserID, err)
		} else {
			q.incrStat(StatApproved)
		}

	default:
		log.Errorf("[GrantQueue] Unknown work type: %s", w.Type)
	}
}

// incrStat bumps a counter in the redis stats hash, best effort.
func (q *Queue) incrStat(field string) {
	if !q.stats {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := cache.GetClient().HIncrBy(ctx, StatsKey, field, 1).Err(); err != nil {
		log.Warnf("[GrantQueue] Failed to update stats: %v", err)
	}
}

// Stats reads the redis counters for the admin API.
func (q *Queue) Stats() (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	raw, err := cache.GetClient().HGetAll(ctx, StatsKey).Result()
	if err != nil {
		return nil, err
	}

	stats := make(map[string]int64, len(raw))
	for field, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		stats[field] = n
	}
	return stats, nil
}

// DisableStats turns off the redis counters (tests).
func (q *Queue) DisableStats() {
	q.stats = false
}
