package like

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderinc/sonymous/internal/api"
)

type likerFunc func(ctx context.Context, id int64) (int, error)

func (f likerFunc) LikeMessage(ctx context.Context, id int64) (int, error) { return f(ctx, id) }

// gatedLiker blocks until the test releases the response
type gatedLiker struct {
	started chan struct{}
	release chan struct{}
	count   int
	err     error
}

func newGatedLiker(count int, err error) *gatedLiker {
	return &gatedLiker{started: make(chan struct{}, 1), release: make(chan struct{}), count: count, err: err}
}

func (g *gatedLiker) LikeMessage(context.Context, int64) (int, error) {
	g.started <- struct{}{}
	<-g.release
	return g.count, g.err
}

func TestController_SuccessAdoptsServerCount(t *testing.T) {
	liker := newGatedLiker(6, nil)
	c := NewController(1, 5, liker, Policy{OneShot: true}, nil)

	done := make(chan int, 1)
	go func() {
		n, err := c.Trigger(context.Background())
		assert.NoError(t, err)
		done <- n
	}()

	<-liker.started
	assert.Equal(t, 6, c.Count(), "optimistic increment")
	assert.True(t, c.InFlight())

	close(liker.release)
	assert.Equal(t, 6, <-done)
	assert.Equal(t, 6, c.Count())
	assert.True(t, c.Liked())
}

func TestController_ServerCountWins(t *testing.T) {
	c := NewController(1, 5, likerFunc(func(context.Context, int64) (int, error) { return 9, nil }), Policy{}, nil)

	n, err := c.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, 9, c.Count())
}

func TestController_FailureRollsBackExactlyOne(t *testing.T) {
	boom := &api.Error{Kind: api.KindServer, Status: 500}
	c := NewController(1, 5, likerFunc(func(context.Context, int64) (int, error) { return 0, boom }), Policy{OneShot: true}, nil)

	n, err := c.Trigger(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, c.Count())
	assert.False(t, c.InFlight())

	// one-shot: failure still completes the gesture
	n, err = c.Trigger(context.Background())
	require.ErrorIs(t, err, ErrAlreadyLiked)
	assert.Equal(t, 5, n)
}

func TestController_OneShotBlocksRepeat(t *testing.T) {
	calls := 0
	liker := likerFunc(func(context.Context, int64) (int, error) {
		calls++
		return 5 + calls, nil
	})

	oneShot := NewController(1, 5, liker, Policy{OneShot: true}, nil)
	_, err := oneShot.Trigger(context.Background())
	require.NoError(t, err)
	_, err = oneShot.Trigger(context.Background())
	require.ErrorIs(t, err, ErrAlreadyLiked)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 6, oneShot.Count())

	repeat := NewController(2, 6, liker, Policy{}, nil)
	for range 3 {
		_, err := repeat.Trigger(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 4, calls)
	assert.Equal(t, 9, repeat.Count(), "last server-reported count")
}

func TestController_InFlightIsNoop(t *testing.T) {
	liker := newGatedLiker(6, nil)
	c := NewController(1, 5, liker, Policy{}, nil)

	go func() { _, _ = c.Trigger(context.Background()) }()
	<-liker.started

	n, err := c.Trigger(context.Background())
	require.ErrorIs(t, err, ErrInFlight)
	assert.Equal(t, 6, n)

	c.Reconcile(42)
	assert.Equal(t, 6, c.Count(), "reconcile must not clobber an optimistic value")

	close(liker.release)
	require.Eventually(t, func() bool { return !c.InFlight() }, time.Second, time.Millisecond)
	assert.Equal(t, 6, c.Count())
}

func TestController_DetachDropsLateResponse(t *testing.T) {
	liker := newGatedLiker(0, errors.New("late failure"))
	var changes []int
	c := NewController(1, 5, liker, Policy{OneShot: true}, nil)
	c.onChange = func(_ int64, n int) { changes = append(changes, n) }

	done := make(chan error, 1)
	go func() {
		_, err := c.Trigger(context.Background())
		done <- err
	}()
	<-liker.started

	c.Detach()
	close(liker.release)
	require.ErrorIs(t, <-done, ErrDetached)
	assert.Equal(t, []int{6}, changes)
}

func TestBoard_ObserveAndLike(t *testing.T) {
	var changed []int64
	board := NewBoard(likerFunc(func(_ context.Context, id int64) (int, error) {
		return 11, nil
	}), Policy{OneShot: true}, nil, func(id int64, _ int) { changed = append(changed, id) })

	board.Observe([]api.Message{{ID: 1, LikesCount: 5}, {ID: 2, LikesCount: 10}})

	n, err := board.Like(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, []int64{2, 2}, changed)

	_, err = board.Like(context.Background(), 3)
	require.ErrorIs(t, err, ErrUnknownMessage)

	board.Observe([]api.Message{{ID: 1, LikesCount: 7}, {ID: 2, LikesCount: 12}})
	out := board.Overlay([]api.Message{{ID: 1, LikesCount: 0}, {ID: 2}, {ID: 3, LikesCount: 4}})
	assert.Equal(t, 7, out[0].LikesCount)
	assert.Equal(t, 12, out[1].LikesCount)
	assert.Equal(t, 4, out[2].LikesCount)

	c, ok := board.Get(2)
	require.True(t, ok)
	assert.True(t, c.Liked())

	board.Reset()
	_, ok = board.Get(2)
	assert.False(t, ok)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.False(t, p.OneShot)

	p, err = ParsePolicy("Once")
	require.NoError(t, err)
	assert.True(t, p.OneShot)
	assert.Equal(t, "once", p.String())

	p, err = ParsePolicy("repeat")
	require.NoError(t, err)
	assert.Equal(t, "repeat", p.String())

	_, err = ParsePolicy("twice")
	require.Error(t, err)
}

func TestController_LockedOnlyUnderOneShot(t *testing.T) {
	liker := likerFunc(func(context.Context, int64) (int, error) { return 6, nil })

	repeat := NewController(1, 5, liker, Policy{}, nil)
	_, err := repeat.Trigger(context.Background())
	require.NoError(t, err)
	assert.True(t, repeat.Liked())
	assert.False(t, repeat.Locked())

	once := NewController(1, 5, liker, Policy{OneShot: true}, nil)
	assert.False(t, once.Locked())
	_, err = once.Trigger(context.Background())
	require.NoError(t, err)
	assert.True(t, once.Locked())
}
