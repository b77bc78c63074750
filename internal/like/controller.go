// Package like implements optimistic likes with exact rollback.
//
// A Controller owns the displayed counter of one message. Trigger bumps the
// counter before the request is sent, then either adopts the server count or
// takes the bump back. The in-flight flag is the only thing that keeps two
// gestures on the same message apart.
package like

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/renderinc/sonymous/internal/api"
)

var (
	ErrInFlight       = errors.New("like: request already in flight")
	ErrAlreadyLiked   = errors.New("like: already liked")
	ErrDetached       = errors.New("like: controller detached")
	ErrUnknownMessage = errors.New("like: unknown message")
)

// Liker sends the like request and returns the authoritative count.
// *api.Client satisfies it.
type Liker interface {
	LikeMessage(ctx context.Context, id int64) (int, error)
}

// Policy is decided per display context. The live feed allows repeated
// likes; the card variant locks after the first gesture.
type Policy struct {
	OneShot bool
}

// ParsePolicy accepts "repeat" and "once". Empty means repeat.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "repeat":
		return Policy{}, nil
	case "once":
		return Policy{OneShot: true}, nil
	default:
		return Policy{}, fmt.Errorf("unknown like policy %q", s)
	}
}

func (p Policy) String() string {
	if p.OneShot {
		return "once"
	}
	return "repeat"
}

// Controller is the like state of one displayed message.
type Controller struct {
	id       int64
	liker    Liker
	policy   Policy
	logger   *slog.Logger
	onChange func(id int64, count int)

	mu       sync.Mutex
	count    int
	inFlight bool
	done     bool
	detached bool
}

// NewController starts from the count the feed displayed.
func NewController(id int64, count int, liker Liker, policy Policy, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		id:     id,
		count:  count,
		liker:  liker,
		policy: policy,
		logger: logger,
	}
}

// Trigger performs one like gesture and returns the displayed count once it
// resolves. A gesture while another is in flight, or after a completed
// one-shot gesture, changes nothing.
func (c *Controller) Trigger(ctx context.Context) (int, error) {
	c.mu.Lock()
	switch {
	case c.detached:
		c.mu.Unlock()
		return 0, ErrDetached
	case c.inFlight:
		count := c.count
		c.mu.Unlock()
		return count, ErrInFlight
	case c.policy.OneShot && c.done:
		count := c.count
		c.mu.Unlock()
		return count, ErrAlreadyLiked
	}

	c.count++
	c.inFlight = true
	optimistic := c.count
	c.mu.Unlock()
	c.notify(optimistic)

	server, err := c.liker.LikeMessage(ctx, c.id)

	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		return 0, ErrDetached
	}
	c.inFlight = false
	if err != nil {
		c.count--
		if c.policy.OneShot {
			c.done = true
		}
		count := c.count
		c.mu.Unlock()
		c.notify(count)
		c.logger.Debug("like_rolled_back", slog.Int64("message_id", c.id), slog.String("error", err.Error()))
		return count, err
	}

	c.count = server
	c.done = true
	c.mu.Unlock()
	c.notify(server)
	return server, nil
}

// Reconcile adopts a count from fresh server data. It is ignored while a
// gesture is in flight so the optimistic value is not lost.
func (c *Controller) Reconcile(count int) {
	c.mu.Lock()
	if c.inFlight || c.detached || c.count == count {
		c.mu.Unlock()
		return
	}
	c.count = count
	c.mu.Unlock()
	c.notify(count)
}

// Detach turns every later response into a no-op.
func (c *Controller) Detach() {
	c.mu.Lock()
	c.detached = true
	c.mu.Unlock()
}

func (c *Controller) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *Controller) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Liked reports whether a gesture completed. Under the one-shot policy this
// includes failed gestures, since no retry is offered.
func (c *Controller) Liked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Locked reports whether further gestures are refused.
func (c *Controller) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy.OneShot && c.done
}

func (c *Controller) notify(count int) {
	if c.onChange != nil {
		c.onChange(c.id, count)
	}
}

// Board holds the controllers of one display context.
type Board struct {
	liker    Liker
	policy   Policy
	logger   *slog.Logger
	onChange func(id int64, count int)

	mu    sync.Mutex
	items map[int64]*Controller
}

// NewBoard creates an empty board. onChange may be nil.
func NewBoard(liker Liker, policy Policy, logger *slog.Logger, onChange func(id int64, count int)) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	return &Board{
		liker:    liker,
		policy:   policy,
		logger:   logger,
		onChange: onChange,
		items:    make(map[int64]*Controller),
	}
}

// Observe registers newly displayed messages and reconciles known ones.
func (b *Board) Observe(msgs []api.Message) {
	b.mu.Lock()
	var stale []*Controller
	for _, m := range msgs {
		if c, ok := b.items[m.ID]; ok {
			stale = append(stale, c)
			continue
		}
		c := NewController(m.ID, m.LikesCount, b.liker, b.policy, b.logger)
		c.onChange = b.onChange
		b.items[m.ID] = c
	}
	b.mu.Unlock()

	counts := make(map[int64]int, len(msgs))
	for _, m := range msgs {
		counts[m.ID] = m.LikesCount
	}
	for _, c := range stale {
		c.Reconcile(counts[c.id])
	}
}

// Like triggers the controller of a displayed message.
func (b *Board) Like(ctx context.Context, id int64) (int, error) {
	c, ok := b.Get(id)
	if !ok {
		return 0, ErrUnknownMessage
	}
	return c.Trigger(ctx)
}

func (b *Board) Get(id int64) (*Controller, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.items[id]
	return c, ok
}

// Overlay returns a copy of msgs with the displayed counts of this board.
func (b *Board) Overlay(msgs []api.Message) []api.Message {
	out := make([]api.Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if c, ok := b.Get(out[i].ID); ok {
			out[i].LikesCount = c.Count()
		}
	}
	return out
}

// Reset detaches every controller, for example when the view is torn down
// or the filter changes.
func (b *Board) Reset() {
	b.mu.Lock()
	items := b.items
	b.items = make(map[int64]*Controller)
	b.mu.Unlock()

	for _, c := range items {
		c.Detach()
	}
}
