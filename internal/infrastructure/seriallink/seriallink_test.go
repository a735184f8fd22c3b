package seriallink_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dosensor-service/internal/domain"
	"dosensor-service/internal/infrastructure/seriallink"
)

type readResult struct {
	data string
	err  error
}

type fakePort struct {
	mu       sync.Mutex
	reads    []readResult
	writes   []string
	writeErr error
	closed   bool

	// readStarted and release, when set, hold the first Read until release is closed.
	readStarted chan struct{}
	release     chan struct{}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	if p.release != nil {
		select {
		case p.readStarted <- struct{}{}:
		default:
		}
		<-p.release
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.reads) == 0 {
		return 0, nil
	}
	next := p.reads[0]
	p.reads = p.reads[1:]
	if next.err != nil {
		return 0, next.err
	}
	return copy(buf, next.data), nil
}

func (p *fakePort) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.writes = append(p.writes, string(buf))
	return len(buf), nil
}

func (p *fakePort) ResetInputBuffer() error            { return nil }
func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeOpener struct {
	mu     sync.Mutex
	ports  []*fakePort
	fail   map[string]error
	opened []string
}

func (o *fakeOpener) open(path string, _ int) (seriallink.Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, path)
	if err := o.fail[path]; err != nil {
		return nil, err
	}
	if len(o.ports) == 0 {
		return &fakePort{}, nil
	}
	port := o.ports[0]
	o.ports = o.ports[1:]
	return port, nil
}

func (o *fakeOpener) openedPaths() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opened...)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newManager(opener *fakeOpener, clock *fakeClock, path string) *seriallink.Manager {
	return seriallink.New(seriallink.Config{
		Port:             path,
		BaudRate:         9600,
		Settle:           0,
		ReadAttempts:     5,
		ReadTimeout:      time.Millisecond,
		ReadGap:          0,
		ReconnectBackoff: 5 * time.Second,
		Opener:           opener.open,
		Now:              clock.Now,
	})
}

func TestPollAssemblesFrameAcrossReads(t *testing.T) {
	port := &fakePort{reads: []readResult{
		{data: "0,+0.00,+20"},
		{data: ".276,+8.997,+0.931\r\n"},
		{data: "unread"},
	}}
	opener := &fakeOpener{ports: []*fakePort{port}}
	mgr := newManager(opener, &fakeClock{now: time.Now()}, "/dev/ttyUSB0")

	raw, err := mgr.Poll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "0,+0.00,+20.276,+8.997,+0.931\r\n", string(raw))
	assert.Equal(t, []string{seriallink.Command}, port.writes)
	assert.Equal(t, domain.LinkOpen, mgr.State())
}

func TestPollReturnsIncompleteResponseForParser(t *testing.T) {
	port := &fakePort{reads: []readResult{{data: "garbage"}}}
	mgr := newManager(&fakeOpener{ports: []*fakePort{port}}, &fakeClock{now: time.Now()}, "/dev/ttyUSB0")

	raw, err := mgr.Poll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "garbage", string(raw))
}

func TestPollEmptyResponseIsTransient(t *testing.T) {
	mgr := newManager(&fakeOpener{ports: []*fakePort{{}}}, &fakeClock{now: time.Now()}, "/dev/ttyUSB0")

	_, err := mgr.Poll(context.Background())

	assert.ErrorIs(t, err, domain.ErrTransientRead)
	assert.Equal(t, domain.LinkOpen, mgr.State())
}

func TestWriteFailureReconnectsImmediately(t *testing.T) {
	broken := &fakePort{writeErr: errors.New("device reports readiness but returned no data")}
	healthy := &fakePort{}
	opener := &fakeOpener{ports: []*fakePort{broken, healthy}}
	mgr := newManager(opener, &fakeClock{now: time.Now()}, "/dev/ttyUSB0")

	_, err := mgr.Poll(context.Background())

	assert.ErrorIs(t, err, domain.ErrLinkUnavailable)
	assert.True(t, broken.closed)
	assert.Len(t, opener.openedPaths(), 2)
	assert.Equal(t, domain.LinkOpen, mgr.State())
}

func TestReadFailureThenBackoff(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)}
	broken := &fakePort{reads: []readResult{{err: errors.New("input/output error")}}}
	opener := &fakeOpener{ports: []*fakePort{broken}}
	mgr := newManager(opener, clock, "/dev/ttyUSB0")

	t.Log("Step 1: first poll opens the port, the read fails and the reconnect fails too")
	require.NoError(t, mgr.Open(context.Background()))
	opener.fail = map[string]error{"/dev/ttyUSB0": errors.New("no such device")}

	_, err := mgr.Poll(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransientRead)
	assert.Equal(t, domain.LinkClosed, mgr.State())
	assert.Len(t, opener.openedPaths(), 2)

	t.Log("Step 2: within the backoff the device is not touched")
	clock.now = clock.now.Add(time.Second)
	_, err = mgr.Poll(context.Background())
	assert.ErrorIs(t, err, domain.ErrLinkUnavailable)
	assert.Len(t, opener.openedPaths(), 2)

	t.Log("Step 3: after the backoff the link reopens")
	opener.fail = nil
	clock.now = clock.now.Add(5 * time.Second)
	_, err = mgr.Poll(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransientRead)
	assert.Len(t, opener.openedPaths(), 3)
	assert.Equal(t, domain.LinkOpen, mgr.State())
}

func TestPollHonoursCancellationDuringSettle(t *testing.T) {
	mgr := seriallink.New(seriallink.Config{
		Port:   "/dev/ttyUSB0",
		Settle: time.Hour,
		Opener: (&fakeOpener{}).open,
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mgr.Poll(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func devicePath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	return path
}

func TestSelectMissingPath(t *testing.T) {
	opener := &fakeOpener{}
	mgr := newManager(opener, &fakeClock{now: time.Now()}, "/dev/ttyUSB0")

	err := mgr.Select(context.Background(), filepath.Join(t.TempDir(), "ttyNOPE"))

	assert.ErrorIs(t, err, domain.ErrPortNotFound)
	assert.Empty(t, opener.openedPaths())
	assert.Equal(t, "/dev/ttyUSB0", mgr.Config().Port)
}

func TestSelectSwitchesDevice(t *testing.T) {
	old := &fakePort{}
	opener := &fakeOpener{ports: []*fakePort{old}}
	mgr := newManager(opener, &fakeClock{now: time.Now()}, "/dev/ttyUSB0")
	require.NoError(t, mgr.Open(context.Background()))
	target := devicePath(t, "ttyACM0")

	err := mgr.Select(context.Background(), target)

	require.NoError(t, err)
	assert.True(t, old.closed)
	assert.Equal(t, domain.SerialConfig{Port: target, BaudRate: 9600}, mgr.Config())
	assert.Equal(t, domain.LinkOpen, mgr.State())
}

func TestSelectWaitsForPollInFlight(t *testing.T) {
	t.Log("Step 1: start a poll whose read blocks on the device")
	old := &fakePort{
		reads:       []readResult{{data: "0,+0.00,+20.276,+8.997,+0.931\r\n"}},
		readStarted: make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	opener := &fakeOpener{ports: []*fakePort{old}}
	mgr := newManager(opener, &fakeClock{now: time.Now()}, "/dev/ttyUSB0")
	require.NoError(t, mgr.Open(context.Background()))
	target := devicePath(t, "ttyACM2")

	type pollResult struct {
		raw []byte
		err error
	}
	polled := make(chan pollResult, 1)
	go func() {
		raw, err := mgr.Poll(context.Background())
		polled <- pollResult{raw: raw, err: err}
	}()

	select {
	case <-old.readStarted:
	case <-time.After(time.Second):
		t.Fatal("poll never reached the read")
	}

	t.Log("Step 2: select a new device while the read is pending")
	selected := make(chan error, 1)
	go func() {
		selected <- mgr.Select(context.Background(), target)
	}()

	assert.Never(t, func() bool {
		return len(opener.openedPaths()) > 1 || old.isClosed()
	}, 100*time.Millisecond, 5*time.Millisecond)

	t.Log("Step 3: release the read and let the switch proceed")
	close(old.release)

	var result pollResult
	select {
	case result = <-polled:
	case <-time.After(time.Second):
		t.Fatal("poll did not finish after release")
	}
	require.NoError(t, result.err)
	assert.Equal(t, "0,+0.00,+20.276,+8.997,+0.931\r\n", string(result.raw))

	select {
	case err := <-selected:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("select did not finish after the poll")
	}
	assert.True(t, old.isClosed())
	assert.Equal(t, []string{"/dev/ttyUSB0", target}, opener.openedPaths())
	assert.Equal(t, target, mgr.Config().Port)
}

func TestSelectFailureRestoresPrevious(t *testing.T) {
	target := devicePath(t, "ttyACM1")
	opener := &fakeOpener{fail: map[string]error{target: errors.New("permission denied")}}
	mgr := newManager(opener, &fakeClock{now: time.Now()}, "/dev/ttyUSB0")
	require.NoError(t, mgr.Open(context.Background()))

	err := mgr.Select(context.Background(), target)

	assert.ErrorIs(t, err, domain.ErrConnectFailed)
	assert.Equal(t, "/dev/ttyUSB0", mgr.Config().Port)
	assert.Equal(t, []string{"/dev/ttyUSB0", target, "/dev/ttyUSB0"}, opener.openedPaths())
	assert.Equal(t, domain.LinkOpen, mgr.State())
}

func TestListPortsUsesLister(t *testing.T) {
	mgr := seriallink.New(seriallink.Config{
		Lister: func() ([]string, error) { return []string{"/dev/ttyUSB0"}, nil },
	})

	ports, err := mgr.ListPorts()

	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/ttyUSB0"}, ports)
}
