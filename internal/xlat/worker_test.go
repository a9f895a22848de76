package xlat

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/vitlabuda/tundra-nat64-sub001/internal/metrics"
	"github.com/vitlabuda/tundra-nat64-sub001/internal/xlog"

	"github.com/prometheus/client_golang/prometheus"
)

// chanEndpoint feeds Read from a channel of pre-built packets and records
// every Write, giving worker_test.go a deterministic Endpoint without any
// real file descriptor. Once the queued packets are drained Read returns
// io.EOF, a non-fatal error, so a worker keeps looping until Stop.
type chanEndpoint struct {
	mu      sync.Mutex
	packets chan []byte
	written [][]byte
	closed  bool
}

func newChanEndpoint(packets ...[]byte) *chanEndpoint {
	ch := make(chan []byte, len(packets)+1)
	for _, p := range packets {
		ch <- p
	}
	close(ch)
	return &chanEndpoint{packets: ch}
}

func (c *chanEndpoint) Read(buf []byte) (int, error) {
	p, ok := <-c.packets
	if !ok {
		return 0, io.EOF
	}
	return copy(buf, p), nil
}

func (c *chanEndpoint) Write(buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]byte(nil), buf...)
	c.written = append(c.written, cp)
	return nil
}

func (c *chanEndpoint) writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

func testLogger() *xlog.Logger {
	return xlog.New(io.Discard, xlog.LevelSilent, "test ")
}

func TestEngineTranslatesOnePacketEndToEnd(t *testing.T) {
	cfg := testNAT64Config()
	in := buildIPv4UDP(t, [4]byte{198, 51, 100, 7}, [4]byte{203, 0, 113, 9}, 64, []byte("hi"))

	ep := newChanEndpoint(in)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	log := testLogger()

	engine := NewEngine(cfg, []EndpointPair{{Read: ep, Write: ep}}, m, log)
	engine.Run()

	for i := 0; i < 1000 && len(ep.writes()) == 0; i++ {
		time.Sleep(time.Millisecond)
	}

	engine.Stop()

	writes := ep.writes()
	if len(writes) != 1 {
		t.Fatalf("got %d writes, want 1", len(writes))
	}
	if writes[0][0]>>4 != 6 {
		t.Errorf("translated output version nibble = %d, want 6", writes[0][0]>>4)
	}
}

// failingEndpoint returns a fatal I/O error from Read on every call, so the
// worker that owns it should self-terminate and signal Engine.Done without
// anyone calling Stop.
type failingEndpoint struct{}

func (failingEndpoint) Read(buf []byte) (int, error) {
	return 0, &FatalIOError{Op: "read", Err: errors.New("device gone")}
}
func (failingEndpoint) Write(buf []byte) error { return nil }

func TestEngineSignalsDoneAndErrOnFatalReadError(t *testing.T) {
	cfg := testNAT64Config()
	ep := failingEndpoint{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	log := testLogger()

	engine := NewEngine(cfg, []EndpointPair{{Read: ep, Write: ep}}, m, log)
	engine.Run()

	select {
	case <-engine.Done():
	case <-time.After(time.Second):
		t.Fatal("Engine.Done() never closed after a fatal read error")
	}

	if err := engine.Err(); err == nil {
		t.Error("Engine.Err() = nil, want the fatal read error")
	} else if !IsFatal(err) {
		t.Errorf("Engine.Err() = %v, want a fatal error", err)
	}
}

func TestTranslateAndSendDropsUnknownIPVersion(t *testing.T) {
	cfg := testNAT64Config()
	ctx := NewThreadContext(0, cfg, nil, nil, nil, testLogger())
	ctx.InBuffer[0] = 0x00 // neither 4 nor 6 in the version nibble
	ctx.InSize = 20

	if err := translateAndSend(ctx); err != nil {
		t.Errorf("translateAndSend returned %v, want nil for an unknown-version drop", err)
	}
}

func TestIsFatalDistinguishesFatalIOErrors(t *testing.T) {
	plain := errors.New("transient")
	if IsFatal(plain) {
		t.Error("expected a plain error not to be classified fatal")
	}

	fatal := &FatalIOError{Op: "read", Err: errors.New("device gone")}
	if !IsFatal(fatal) {
		t.Error("expected FatalIOError to be classified fatal")
	}
}

func TestFatalIOErrorUnwraps(t *testing.T) {
	inner := errors.New("ebadf")
	fatal := &FatalIOError{Op: "write", Err: inner}
	if !errors.Is(fatal, inner) {
		t.Error("expected errors.Is to see through FatalIOError to its wrapped cause")
	}
	if !bytes.Contains([]byte(fatal.Error()), []byte("ebadf")) {
		t.Errorf("Error() = %q, want it to mention the wrapped cause", fatal.Error())
	}
}
