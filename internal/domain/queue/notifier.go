package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/craftfolio/mailroom/internal/domain/model"
)

// ErrWaiterRequired indicates a notifier cannot be constructed without a waiter.
var ErrWaiterRequired = errors.New("notifier waiter is required")

// Waiter blocks until new jobs of a kind may be available.
type Waiter interface {
	WaitForNotification(ctx context.Context, kind model.JobKind) error
}

// Notifier manages subscriptions for job availability notifications. One
// background listener per kind is shared by all subscribers of that kind.
type Notifier interface {
	Subscribe(kind model.JobKind) (func(), <-chan struct{})
	StopAll()
}

// NotifierOptions configure the default notifier implementation.
type NotifierOptions struct {
	Waiter Waiter
	// WaitWindow bounds one blocking wait; the listener re-arms after it
	// elapses so subscribers also wake on a quiet queue.
	WaitWindow time.Duration
	// Backoff is the pause after a failed wait before re-arming.
	Backoff time.Duration
}

// DefaultNotifier is the default implementation of Notifier.
type DefaultNotifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration

	mu        sync.Mutex
	subs      map[model.JobKind]map[chan struct{}]struct{}
	listeners map[model.JobKind]context.CancelFunc
}

// NewNotifier constructs the default notifier implementation.
func NewNotifier(opts NotifierOptions) (*DefaultNotifier, error) {
	if opts.Waiter == nil {
		return nil, ErrWaiterRequired
	}

	waitWindow := opts.WaitWindow
	if waitWindow <= 0 {
		waitWindow = time.Minute
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	return &DefaultNotifier{
		waiter:     opts.Waiter,
		waitWindow: waitWindow,
		backoff:    backoff,
		subs:       make(map[model.JobKind]map[chan struct{}]struct{}),
		listeners:  make(map[model.JobKind]context.CancelFunc),
	}, nil
}

// Subscribe registers a subscriber for the kind and returns an unsubscribe
// function plus the wake-up channel. The channel carries at most one pending
// wake-up; a burst of notifications coalesces.
func (n *DefaultNotifier) Subscribe(kind model.JobKind) (func(), <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.listeners[kind]; !ok {
		ctx, cancel := context.WithCancel(context.Background())
		n.listeners[kind] = cancel
		go n.listenLoop(ctx, kind)
	}

	ch := make(chan struct{}, 1)
	if n.subs[kind] == nil {
		n.subs[kind] = make(map[chan struct{}]struct{})
	}
	n.subs[kind][ch] = struct{}{}

	unsub := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		subscribers := n.subs[kind]
		if subscribers == nil {
			return
		}
		if _, ok := subscribers[ch]; !ok {
			return
		}
		delete(subscribers, ch)
		drainAndClose(ch)
		if len(subscribers) == 0 {
			n.stopListener(kind)
			delete(n.subs, kind)
		}
	}

	return unsub, ch
}

// StopAll cancels every listener and closes every subscriber channel.
func (n *DefaultNotifier) StopAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for kind, cancel := range n.listeners {
		cancel()
		delete(n.listeners, kind)
	}
	for kind, subscribers := range n.subs {
		for ch := range subscribers {
			drainAndClose(ch)
		}
		delete(n.subs, kind)
	}
}

func (n *DefaultNotifier) stopListener(kind model.JobKind) {
	cancel, ok := n.listeners[kind]
	if !ok {
		return
	}
	cancel()
	delete(n.listeners, kind)
}

func (n *DefaultNotifier) listenLoop(ctx context.Context, kind model.JobKind) {
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		err := n.waiter.WaitForNotification(waitCtx, kind)
		cancel()

		// Broadcast even on error: a wait window elapsing still means
		// subscribers should re-check the queue.
		n.broadcast(kind)

		if err != nil && ctx.Err() == nil {
			timer := time.NewTimer(n.backoff)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return
			case <-timer.C:
			}
		}
	}
}

func (n *DefaultNotifier) broadcast(kind model.JobKind) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.subs[kind] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// drainAndClose removes any buffered notification before closing the channel
// so receivers observe a closed channel immediately.
func drainAndClose(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}

var _ Notifier = (*DefaultNotifier)(nil)
