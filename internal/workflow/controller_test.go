package workflow

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-bg-remover/internal/encoder"
	"go-bg-remover/internal/observer"
	"go-bg-remover/internal/removal"
)

const resultURL = "https://service/result.png"

type fakeRemover struct {
	mu      sync.Mutex
	calls   []string
	ctxErrs []error
	url     string
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeRemover) RemoveBackground(ctx context.Context, imageRef string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, imageRef)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	started, release := f.started, f.release
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

func (f *fakeRemover) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRemover) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// gatedEncoder blocks encodes of files named "slow" until release is closed.
type gatedEncoder struct {
	real    *encoder.Encoder
	started chan struct{}
	release chan struct{}
}

func (g *gatedEncoder) Encode(ctx context.Context, r io.Reader, declaredType, filename string) (*encoder.SourceImage, error) {
	if filename == "slow" {
		g.started <- struct{}{}
		<-g.release
	}
	return g.real.Encode(ctx, r, declaredType, filename)
}

func jpegPayload(n int) []byte {
	return bytes.Repeat([]byte{0xAB}, n)
}

func selectBytes(t *testing.T, c *Controller, data []byte, name string) Snapshot {
	t.Helper()
	snap, err := c.Select(context.Background(), bytes.NewReader(data), "image/jpeg", name)
	require.NoError(t, err)
	return snap
}

func TestController_InitialState(t *testing.T) {
	c := New("s", encoder.New(), &fakeRemover{url: resultURL})

	snap := c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Source)
	assert.Nil(t, snap.Processed)
	assert.False(t, snap.CanSubmit)
}

func TestController_DropSubmitComplete(t *testing.T) {
	remover := &fakeRemover{url: resultURL, started: make(chan struct{}), release: make(chan struct{})}
	c := New("s", encoder.New(), remover)

	snap := selectBytes(t, c, jpegPayload(500*1024), "photo.jpg")
	assert.Equal(t, StateImageSelected, snap.State)
	assert.True(t, snap.CanSubmit)
	require.NotNil(t, snap.Source)
	assert.Equal(t, int64(500*1024), snap.Source.Size)

	done := make(chan Snapshot)
	go func() {
		s, err := c.Submit(context.Background())
		assert.NoError(t, err)
		done <- s
	}()

	<-remover.started
	mid := c.Snapshot()
	assert.Equal(t, StateProcessing, mid.State)
	assert.False(t, mid.CanSubmit)

	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrSubmitDisabled)

	close(remover.release)
	final := <-done

	assert.Equal(t, StateCompleted, final.State)
	require.NotNil(t, final.Processed)
	assert.Equal(t, resultURL, final.Processed.URL)
	assert.Equal(t, 1, remover.callCount())
	assert.Equal(t, snap.Source.DataURI, remover.calls[0])
}

func TestController_FailureThenRetry(t *testing.T) {
	remover := &fakeRemover{url: resultURL, err: &removal.RemovalError{Kind: removal.KindNetwork, Cause: errors.New("dial tcp")}}
	c := New("s", encoder.New(), remover)
	selectBytes(t, c, jpegPayload(1024), "a.jpg")

	snap, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, removal.ErrRemovalFailed)
	assert.Equal(t, StateFailed, snap.State)
	assert.Nil(t, snap.Processed)
	assert.True(t, snap.CanSubmit)

	remover.setErr(nil)
	snap, err = c.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, resultURL, snap.Processed.URL)

	require.Equal(t, 2, remover.callCount())
	assert.Equal(t, remover.calls[0], remover.calls[1], "retry reuses the same source image")
}

func TestController_FailureAfterCompletedClearsResult(t *testing.T) {
	remover := &fakeRemover{url: resultURL}
	c := New("s", encoder.New(), remover)
	selectBytes(t, c, jpegPayload(10), "a.jpg")

	_, err := c.Submit(context.Background())
	require.NoError(t, err)
	_, err = c.ShowFullscreen(TargetProcessed)
	require.NoError(t, err)

	remover.setErr(errors.New("boom"))
	snap, err := c.Submit(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, snap.State)
	assert.Nil(t, snap.Processed)
	assert.Equal(t, TargetNone, snap.Fullscreen)
}

func TestController_SubmitWithoutSource(t *testing.T) {
	remover := &fakeRemover{url: resultURL}
	c := New("s", encoder.New(), remover)

	snap, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrSubmitDisabled)
	assert.Equal(t, StateIdle, snap.State)
	assert.Zero(t, remover.callCount())
}

func TestController_EncodeFailure(t *testing.T) {
	remover := &fakeRemover{url: resultURL}
	c := New("s", encoder.New(), remover)

	snap, err := c.Select(context.Background(), iotest.ErrReader(errors.New("revoked")), "image/png", "x.png")
	assert.ErrorIs(t, err, ErrEncodeFailed)
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Source)

	selectBytes(t, c, jpegPayload(10), "a.jpg")
	_, err = c.Submit(context.Background())
	require.NoError(t, err)

	snap, err = c.Select(context.Background(), iotest.ErrReader(errors.New("io")), "image/png", "y.png")
	assert.ErrorIs(t, err, ErrEncodeFailed)
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Source)
	assert.Nil(t, snap.Processed)
	assert.False(t, snap.CanSubmit)
}

func TestController_ReselectDiscardsProcessed(t *testing.T) {
	for _, failFirst := range []bool{false, true} {
		remover := &fakeRemover{url: resultURL}
		if failFirst {
			remover.err = errors.New("boom")
		}
		c := New("s", encoder.New(), remover)
		selectBytes(t, c, jpegPayload(10), "a.jpg")
		_, _ = c.Submit(context.Background())

		snap := selectBytes(t, c, jpegPayload(20), "b.jpg")
		assert.Equal(t, StateImageSelected, snap.State)
		assert.Nil(t, snap.Processed)
		assert.Equal(t, "b.jpg", snap.Source.Filename)

		_, err := c.Download()
		assert.ErrorIs(t, err, ErrNoProcessedImage)
	}
}

func TestController_LatestSelectionWins(t *testing.T) {
	enc := &gatedEncoder{real: encoder.New(), started: make(chan struct{}), release: make(chan struct{})}
	c := New("s", enc, &fakeRemover{url: resultURL})

	firstErr := make(chan error)
	go func() {
		_, err := c.Select(context.Background(), strings.NewReader("first"), "image/png", "slow")
		firstErr <- err
	}()
	<-enc.started

	snap := selectBytes(t, c, []byte("second"), "fast.png")
	assert.Equal(t, "fast.png", snap.Source.Filename)

	close(enc.release)
	assert.ErrorIs(t, <-firstErr, ErrSuperseded)

	final := c.Snapshot()
	assert.Equal(t, StateImageSelected, final.State)
	assert.Equal(t, "fast.png", final.Source.Filename)
}

func TestController_ReselectDuringProcessingDiscardsResult(t *testing.T) {
	remover := &fakeRemover{url: resultURL, started: make(chan struct{}), release: make(chan struct{})}
	c := New("s", encoder.New(), remover)
	selectBytes(t, c, jpegPayload(10), "a.jpg")

	submitErr := make(chan error)
	go func() {
		_, err := c.Submit(context.Background())
		submitErr <- err
	}()
	<-remover.started

	snap := selectBytes(t, c, jpegPayload(20), "b.jpg")
	assert.Equal(t, StateImageSelected, snap.State)
	assert.False(t, snap.CanSubmit, "previous call still in flight")

	close(remover.release)
	assert.ErrorIs(t, <-submitErr, ErrSuperseded)

	final := c.Snapshot()
	assert.Equal(t, StateImageSelected, final.State)
	assert.Nil(t, final.Processed)
	assert.True(t, final.CanSubmit)
}

func TestController_FullscreenDoesNotAlterState(t *testing.T) {
	c := New("s", encoder.New(), &fakeRemover{url: resultURL})

	_, err := c.ShowFullscreen(TargetSource)
	assert.ErrorIs(t, err, ErrInvalidTarget)

	selectBytes(t, c, jpegPayload(10), "a.jpg")
	before := c.Snapshot()

	snap, err := c.ShowFullscreen(TargetSource)
	require.NoError(t, err)
	assert.Equal(t, TargetSource, snap.Fullscreen)
	assert.Equal(t, before.State, snap.State)
	assert.Equal(t, before.Source, snap.Source)
	assert.Equal(t, before.Processed, snap.Processed)

	_, err = c.ShowFullscreen(TargetProcessed)
	assert.ErrorIs(t, err, ErrInvalidTarget)
	_, err = c.ShowFullscreen(Target("elsewhere"))
	assert.ErrorIs(t, err, ErrInvalidTarget)

	after := c.DismissFullscreen()
	assert.Equal(t, TargetNone, after.Fullscreen)
	before.Fullscreen = TargetNone
	assert.Equal(t, before, after)
}

func TestController_Download(t *testing.T) {
	c := New("s", encoder.New(), &fakeRemover{url: resultURL})

	_, err := c.Download()
	assert.ErrorIs(t, err, ErrNoProcessedImage)

	selectBytes(t, c, jpegPayload(10), "a.jpg")
	_, err = c.Submit(context.Background())
	require.NoError(t, err)

	d, err := c.Download()
	require.NoError(t, err)
	assert.Equal(t, Download{URL: resultURL, Filename: "processed-image.png"}, d)
}

func TestController_SubmitIgnoresCallerCancellation(t *testing.T) {
	remover := &fakeRemover{url: resultURL}
	c := New("s", encoder.New(), remover)
	selectBytes(t, c, jpegPayload(10), "a.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := c.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, snap.State)
	assert.NoError(t, remover.ctxErrs[0])
}

type fakeFetcher struct {
	body        string
	contentType string
	err         error
}

func (f fakeFetcher) Fetch(context.Context, string) (io.ReadCloser, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return io.NopCloser(strings.NewReader(f.body)), f.contentType, nil
}

func TestController_SelectURL(t *testing.T) {
	c := New("s", encoder.New(), &fakeRemover{url: resultURL})
	_, err := c.SelectURL(context.Background(), "https://example.com/a.png")
	assert.ErrorIs(t, err, ErrNoFetcher)

	c = New("s", encoder.New(), &fakeRemover{url: resultURL}, WithFetcher(fakeFetcher{body: "abc", contentType: "image/webp"}))
	snap, err := c.SelectURL(context.Background(), "https://example.com/a.webp")
	require.NoError(t, err)
	assert.Equal(t, StateImageSelected, snap.State)
	assert.Equal(t, "image/webp", snap.Source.MIMEType)

	c = New("s", encoder.New(), &fakeRemover{url: resultURL}, WithFetcher(fakeFetcher{err: errors.New("404")}))
	snap, err = c.SelectURL(context.Background(), "https://example.com/missing.png")
	assert.ErrorIs(t, err, ErrEncodeFailed)
	assert.Equal(t, StateIdle, snap.State)
}

func TestController_PublishesEvents(t *testing.T) {
	metrics := observer.NewMetricsObserver()
	events := observer.NewEventPublisher()
	events.Subscribe(metrics)

	remover := &fakeRemover{url: resultURL}
	c := New("s", encoder.New(), remover, WithEvents(events))

	_, _ = c.Select(context.Background(), iotest.ErrReader(errors.New("x")), "", "")
	selectBytes(t, c, jpegPayload(10), "a.jpg")
	_, _ = c.Submit(context.Background())
	remover.setErr(errors.New("boom"))
	_, _ = c.Submit(context.Background())

	m := metrics.GetMetrics()
	assert.Equal(t, int64(1), m["encode_failures"])
	assert.Equal(t, int64(1), m["images_selected"])
	assert.Equal(t, int64(2), m["removals_submitted"])
	assert.Equal(t, int64(1), m["removals_completed"])
	assert.Equal(t, int64(1), m["removals_failed"])
}

func TestController_ConcurrentSubmitsMakeOneCall(t *testing.T) {
	remover := &fakeRemover{url: resultURL, release: make(chan struct{})}
	c := New("s", encoder.New(), remover)
	selectBytes(t, c, jpegPayload(10), "a.jpg")

	var wg sync.WaitGroup
	var mu sync.Mutex
	disabled := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Submit(context.Background()); errors.Is(err, ErrSubmitDisabled) {
				mu.Lock()
				disabled++
				mu.Unlock()
			}
		}()
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return disabled == 7
	}, time.Second, time.Millisecond)
	close(remover.release)
	wg.Wait()

	assert.Equal(t, 1, remover.callCount())
	assert.Equal(t, 7, disabled)
}
