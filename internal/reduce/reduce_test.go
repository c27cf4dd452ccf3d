package reduce

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/raster"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/resilience"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/zone"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func TestIsResourceExhausted(t *testing.T) {
	assert.False(t, IsResourceExhausted(nil))
	assert.True(t, IsResourceExhausted(ErrResourceExhausted))
	assert.True(t, IsResourceExhausted(eris.Wrap(ErrResourceExhausted, "histogram")))
	assert.True(t, IsResourceExhausted(errors.New("User memory limit exceeded.")))
	assert.True(t, IsResourceExhausted(errors.New("Too many pixels in the region. Found 12, but maxPixels allows only 10.")))
	assert.False(t, IsResourceExhausted(errors.New("connection reset by peer")))
}

func TestThrottleSpacesCalls(t *testing.T) {
	clock := newFakeClock()
	th := NewThrottle(2*time.Second, clock)
	assert.Equal(t, 2*time.Second, th.Interval())

	for i := 0; i < 3; i++ {
		require.NoError(t, th.Wait(context.Background()))
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clock.waits)
}

func TestThrottleNoWaitAfterInterval(t *testing.T) {
	clock := newFakeClock()
	th := NewThrottle(2*time.Second, clock)

	require.NoError(t, th.Wait(context.Background()))
	clock.mu.Lock()
	clock.now = clock.now.Add(5 * time.Second)
	clock.mu.Unlock()
	require.NoError(t, th.Wait(context.Background()))
	assert.Empty(t, clock.waits)
}

func TestThrottleDisabled(t *testing.T) {
	clock := newFakeClock()
	th := NewThrottle(0, clock)
	for i := 0; i < 5; i++ {
		require.NoError(t, th.Wait(context.Background()))
	}
	assert.Empty(t, clock.waits)
}

func TestThrottleCancelled(t *testing.T) {
	th := NewThrottle(time.Hour, nil)
	require.NoError(t, th.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, th.Wait(ctx), context.Canceled)
}

func TestLadderSteps(t *testing.T) {
	base := Params{Scale: 1000, MaxPixels: 1e8, BestEffort: true}

	steps := EscalationLadder().Steps(base)
	require.Len(t, steps, 2)
	assert.Equal(t, base, steps[0].Params)
	assert.Equal(t, Params{Scale: 2000, MaxPixels: 1e7, BestEffort: true, TileScale: 8}, steps[1].Params)

	cat := CategoricalLadder().Steps(base)
	require.Len(t, cat, 5)
	var tiles []int
	for _, s := range cat {
		tiles = append(tiles, s.Params.TileScale)
		assert.InDelta(t, 1000, s.Params.Scale, 1e-9)
	}
	assert.Equal(t, []int{0, 2, 4, 8, 16}, tiles)
}

func TestLadderRunDegradesUntilSuccess(t *testing.T) {
	var seen []int
	r := ReducerFunc(func(_ context.Context, req Request) (Response, error) {
		seen = append(seen, req.TileScale)
		if req.TileScale < 8 {
			return nil, eris.Wrap(ErrResourceExhausted, "too big")
		}
		return Response{"b1": map[string]any{"7": 1.0}}, nil
	})

	resp, step, err := CategoricalLadder().Run(context.Background(), r, Request{Kind: FrequencyHistogram})
	require.NoError(t, err)
	assert.Equal(t, "tileScale=8", step)
	assert.NotNil(t, resp)
	assert.Equal(t, []int{0, 2, 4, 8}, seen)
}

func TestLadderRunStopsOnOtherErrors(t *testing.T) {
	calls := 0
	r := ReducerFunc(func(_ context.Context, _ Request) (Response, error) {
		calls++
		return nil, errors.New("invalid band")
	})
	_, _, err := CategoricalLadder().Run(context.Background(), r, Request{})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestLadderRunExhausted(t *testing.T) {
	calls := 0
	r := ReducerFunc(func(_ context.Context, _ Request) (Response, error) {
		calls++
		return nil, ErrResourceExhausted
	})
	_, step, err := EscalationLadder().Run(context.Background(), r, Request{Params: Params{Scale: 1000}})
	assert.True(t, IsResourceExhausted(err))
	assert.Empty(t, step)
	assert.Equal(t, 2, calls)
}

func fastPolicy() resilience.Policy {
	return resilience.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestGuardRetriesTransient(t *testing.T) {
	calls := 0
	next := ReducerFunc(func(_ context.Context, _ Request) (Response, error) {
		calls++
		if calls == 1 {
			return nil, resilience.NewTransientError(errors.New("503"), 503)
		}
		return Response{"b": 1.0}, nil
	})
	g := NewGuard(next, NewThrottle(0, nil), WithPolicy(fastPolicy()))

	resp, err := g.Reduce(context.Background(), Request{Kind: Mean})
	require.NoError(t, err)
	assert.Equal(t, Response{"b": 1.0}, resp)
	assert.Equal(t, 2, calls)
}

func TestGuardDoesNotRetryResourceExhaustion(t *testing.T) {
	calls := 0
	next := ReducerFunc(func(_ context.Context, _ Request) (Response, error) {
		calls++
		return nil, ErrResourceExhausted
	})
	g := NewGuard(next, NewThrottle(0, nil), WithPolicy(fastPolicy()))

	_, err := g.Reduce(context.Background(), Request{Kind: Mean})
	assert.True(t, IsResourceExhausted(err))
	assert.Equal(t, 1, calls)
}

func TestGuardTimeoutIsTransient(t *testing.T) {
	calls := 0
	next := ReducerFunc(func(ctx context.Context, _ Request) (Response, error) {
		calls++
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p := fastPolicy()
	p.MaxAttempts = 2
	g := NewGuard(next, NewThrottle(0, nil),
		WithPolicy(p),
		WithTimeouts(Timeouts{Scalar: 5 * time.Millisecond, Histogram: time.Second, Heavy: time.Second}),
	)

	_, err := g.Reduce(context.Background(), Request{Kind: Count})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, 2, calls)
}

func TestGuardSharesThrottle(t *testing.T) {
	clock := newFakeClock()
	th := NewThrottle(2*time.Second, clock)
	next := ReducerFunc(func(_ context.Context, _ Request) (Response, error) { return Response{}, nil })

	a := NewGuard(next, th)
	b := NewGuard(next, th)
	_, _ = a.Reduce(context.Background(), Request{})
	_, _ = b.Reduce(context.Background(), Request{})
	_, _ = a.Reduce(context.Background(), Request{})
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clock.waits)
}

func TestGuardBreakerOpens(t *testing.T) {
	calls := 0
	next := ReducerFunc(func(_ context.Context, _ Request) (Response, error) {
		calls++
		return nil, resilience.NewTransientError(errors.New("down"), 502)
	})
	p := fastPolicy()
	p.MaxAttempts = 1
	g := NewGuard(next, NewThrottle(0, nil),
		WithPolicy(p),
		WithBreaker(resilience.NewBreaker("test", 2, time.Hour, resilience.IsTransient)),
	)

	for i := 0; i < 2; i++ {
		_, _ = g.Reduce(context.Background(), Request{})
	}
	_, err := g.Reduce(context.Background(), Request{})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

func TestTimeoutsFor(t *testing.T) {
	to := DefaultTimeouts()
	assert.Equal(t, 60*time.Second, to.For(Request{Kind: Mean}))
	assert.Equal(t, 120*time.Second, to.For(Request{Kind: FrequencyHistogram}))
	assert.Equal(t, 180*time.Second, to.For(Request{Kind: FrequencyHistogram, Params: Params{TileScale: 8}}))
}

// localFixture builds a small grid around a center where pixels inside the
// urban core read 30 and everything else reads 25.
func localFixture(t *testing.T) (*zone.AnalysisZone, *raster.Grid) {
	t.Helper()
	center := orb.Point{69.24, 41.30}
	z, err := zone.Build(center, 1000, zone.WithRuralBufferKM(1))
	require.NoError(t, err)

	const px = 0.002
	g := raster.NewGrid(30, 30, center[0]-15*px, center[1]+15*px, px)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			lon, lat := g.Center(x, y)
			if z.UrbanCore.Contains(orb.Point{lon, lat}) {
				g.Set(x, y, 30)
			} else {
				g.Set(x, y, 25)
			}
		}
	}
	return z, g
}

func TestLocalReduce(t *testing.T) {
	z, g := localFixture(t)
	img := raster.Image{ID: "lst", Band: raster.Band{Name: "LST_Day_1km"}, Local: g}
	l := NewLocal(nil)
	ctx := context.Background()

	resp, err := l.Reduce(ctx, Request{Image: img, Region: z.UrbanCore, Kind: Mean})
	require.NoError(t, err)
	mean, err := Scalar(resp, "LST_Day_1km", Mean)
	require.NoError(t, err)
	assert.InDelta(t, 30, *mean, 1e-12)

	resp, err = l.Reduce(ctx, Request{Image: img, Region: z.RuralRing, Kind: Mean})
	require.NoError(t, err)
	mean, _ = Scalar(resp, "LST_Day_1km", Mean)
	assert.InDelta(t, 25, *mean, 1e-12)

	resp, err = l.Reduce(ctx, Request{Image: img, Region: z.UrbanCore, Kind: StdDev})
	require.NoError(t, err)
	sd, _ := Scalar(resp, "LST_Day_1km", StdDev)
	assert.InDelta(t, 0, *sd, 1e-12)

	resp, err = l.Reduce(ctx, Request{Image: img, Region: z.FullExtent, Kind: FrequencyHistogram})
	require.NoError(t, err)
	h, err := Histogram(resp, "LST_Day_1km")
	require.NoError(t, err)
	assert.Greater(t, h["30"], int64(0))
	assert.Greater(t, h["25"], int64(0))
}

func TestLocalReduceWithMask(t *testing.T) {
	z, g := localFixture(t)
	built := raster.NewGrid(g.Width, g.Height, g.West, g.North, g.PixelSize)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			if x < 15 {
				built.Set(x, y, 1)
			} else {
				built.Set(x, y, 0)
			}
		}
	}
	mask := raster.NewMaskSpec([]raster.Term{{ImageID: "built", Source: "ghsl", Weight: 1}}, 0.5)
	img := raster.Image{ID: "lst", Band: raster.Band{Name: "b"}, Local: g}
	l := NewLocal(map[string]*raster.Grid{"built": built})

	all, err := l.Reduce(context.Background(), Request{Image: img, Region: z.UrbanCore, Kind: Count})
	require.NoError(t, err)
	west, err := l.Reduce(context.Background(), Request{Image: img.WithMask(mask), Region: z.UrbanCore, Kind: Count})
	require.NoError(t, err)
	east, err := l.Reduce(context.Background(), Request{Image: img.WithMask(mask.Complement()), Region: z.UrbanCore, Kind: Count})
	require.NoError(t, err)

	assert.Greater(t, west["b"].(float64), 0.0)
	assert.InDelta(t, all["b"].(float64), west["b"].(float64)+east["b"].(float64), 1e-9)
}

func TestLocalReduceLimits(t *testing.T) {
	z, g := localFixture(t)
	img := raster.Image{ID: "lst", Band: raster.Band{Name: "b"}, Local: g}
	l := NewLocal(nil)

	_, err := l.Reduce(context.Background(), Request{Image: img, Region: z.FullExtent, Kind: Count, Params: Params{MaxPixels: 10}})
	assert.True(t, IsResourceExhausted(err))

	_, err = l.Reduce(context.Background(), Request{Image: img, Region: z.FullExtent, Kind: Count, Params: Params{MaxPixels: 10, BestEffort: true}})
	assert.NoError(t, err)

	_, err = l.Reduce(context.Background(), Request{Image: raster.Image{ID: "none"}, Kind: Count})
	assert.Error(t, err)

	_, err = l.Reduce(context.Background(), Request{Image: img, Kind: "median"})
	assert.Error(t, err)
}

func TestLocalReduceEmptyRegion(t *testing.T) {
	_, g := localFixture(t)
	far, err := zone.Build(orb.Point{10, 10}, 1000)
	require.NoError(t, err)
	img := raster.Image{ID: "lst", Band: raster.Band{Name: "b"}, Local: g}
	l := NewLocal(nil)

	resp, err := l.Reduce(context.Background(), Request{Image: img, Region: far.UrbanCore, Kind: Mean})
	require.NoError(t, err)
	v, err := Scalar(resp, "b", Mean)
	require.NoError(t, err)
	assert.Nil(t, v)

	resp, err = l.Reduce(context.Background(), Request{Image: img, Region: far.UrbanCore, Kind: Count})
	require.NoError(t, err)
	assert.Equal(t, 0.0, resp["b"])
}
