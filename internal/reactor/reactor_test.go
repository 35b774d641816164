package reactor

import (
	"bufio"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/mock/gomock"

	"github.com/bp7968h/epoll-reactor/examples/broadcast"
	"github.com/bp7968h/epoll-reactor/examples/echo"
	"github.com/bp7968h/epoll-reactor/examples/httpd"
	"github.com/bp7968h/epoll-reactor/internal/config"
	"github.com/bp7968h/epoll-reactor/internal/handler"
	"github.com/bp7968h/epoll-reactor/internal/shutdown"
)

var errUnrecoverable = errors.New("reactor test: simulated unrecoverable handler error")

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return log
}

func newTestReactor(t *testing.T, h handler.EventHandler) (*Reactor, *shutdown.Flag) {
	t.Helper()
	r, err := New(testConfig(), h, testLogger(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, shutdown.New()
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.ListenAddr = "127.0.0.1:0"
	return cfg
}

func runInBackground(t *testing.T, r *Reactor, sd *shutdown.Flag) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- r.Run(sd) }()
	t.Cleanup(func() {
		sd.Request()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("reactor did not shut down within 2s")
		}
	})
}

func dialWithRetry(t *testing.T, addr string) net.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn
		}
		lastErr = err
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("dial %s: %v", addr, lastErr)
	return nil
}

func TestReactor_EchoRoundTrip(t *testing.T) {
	r, sd := newTestReactor(t, echo.New(testLogger()))
	runInBackground(t, r, sd)

	conn := dialWithRetry(t, r.ListenAddr())
	defer conn.Close()

	if _, err := conn.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "hello\n" {
		t.Fatalf("got %q, want %q", line, "hello\n")
	}
}

func TestReactor_EchoHandlesFragmentedWrites(t *testing.T) {
	r, sd := newTestReactor(t, echo.New(testLogger()))
	runInBackground(t, r, sd)

	conn := dialWithRetry(t, r.ListenAddr())
	defer conn.Close()

	for _, chunk := range []string{"he", "ll", "o\n"} {
		if _, err := conn.Write([]byte(chunk)); err != nil {
			t.Fatalf("write %q: %v", chunk, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "hello\n" {
		t.Fatalf("got %q, want %q", line, "hello\n")
	}
}

func TestReactor_BroadcastReachesOtherClientsOnly(t *testing.T) {
	r, sd := newTestReactor(t, broadcast.New(testLogger()))
	runInBackground(t, r, sd)

	addr := r.ListenAddr()
	a := dialWithRetry(t, addr)
	defer a.Close()
	b := dialWithRetry(t, addr)
	defer b.Close()
	c := dialWithRetry(t, addr)
	defer c.Close()

	// Let the reactor's accept loop register all three before sending,
	// since delivery order across connections isn't otherwise bounded.
	time.Sleep(50 * time.Millisecond)

	if _, err := a.Write([]byte("hi\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, recv := range []net.Conn{b, c} {
		recv.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, err := bufio.NewReader(recv).ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if line != "hi\n" {
			t.Fatalf("got %q, want %q", line, "hi\n")
		}
	}

	// The sender must not receive its own broadcast: confirm a stays
	// silent within a short window.
	a.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 16)
	if n, err := a.Read(buf); err == nil {
		t.Fatalf("sender unexpectedly received %q", buf[:n])
	}
}

func TestReactor_HandlerCallOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockEventHandler(ctrl)
	mock.EXPECT().HandlerAPIVersion().Return("1.0.0").AnyTimes()
	mock.EXPECT().FrameLength(gomock.Any()).DoAndReturn(func(buf []byte) int {
		for i, b := range buf {
			if b == '\n' {
				return i + 1
			}
		}
		return 0
	}).AnyTimes()

	connected := make(chan uint64, 1)
	messaged := make(chan uint64, 1)
	disconnected := make(chan uint64, 1)

	gomock.InOrder(
		mock.EXPECT().OnConnection(gomock.Any(), gomock.Any()).DoAndReturn(func(id uint64, _ string) error {
			connected <- id
			return nil
		}),
		mock.EXPECT().OnMessage(gomock.Any(), gomock.Any()).DoAndReturn(func(id uint64, _ []byte) (handler.Action, error) {
			messaged <- id
			return handler.NoAction(), nil
		}),
		mock.EXPECT().OnDisconnect(gomock.Any(), gomock.Any()).Do(func(id uint64, _ handler.DisconnectReason) {
			disconnected <- id
		}),
	)

	r, sd := newTestReactor(t, mock)
	runInBackground(t, r, sd)

	conn := dialWithRetry(t, r.ListenAddr())
	if _, err := conn.Write([]byte("ping\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnection not called")
	}
	select {
	case <-messaged:
	case <-time.After(2 * time.Second):
		t.Fatal("OnMessage not called")
	}

	conn.Close()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnect not called")
	}
}

func TestReactor_PeerResetTearsDownWithoutHangingOthers(t *testing.T) {
	r, sd := newTestReactor(t, echo.New(testLogger()))
	runInBackground(t, r, sd)

	addr := r.ListenAddr()

	reset := dialWithRetry(t, addr)
	if tc, ok := reset.(*net.TCPConn); ok {
		tc.SetLinger(0) // force RST instead of FIN on close
	}
	reset.Close()

	// A second, well-behaved client should still work after the reset
	// connection's teardown.
	time.Sleep(20 * time.Millisecond)
	good := dialWithRetry(t, addr)
	defer good.Close()

	if _, err := good.Write([]byte("still alive\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	good.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(good).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "still alive\n" {
		t.Fatalf("got %q, want %q", line, "still alive\n")
	}
}

func TestReactor_HTTPGetRouting(t *testing.T) {
	r, sd := newTestReactor(t, httpd.New(testLogger(), []byte("<html>ok</html>")))
	runInBackground(t, r, sd)
	addr := r.ListenAddr()

	cases := []struct {
		name       string
		request    string
		wantStatus string
	}{
		{"root", "GET / HTTP/1.1\r\nHost: x\r\n\r\n", "HTTP/1.1 200 OK"},
		{"missing", "GET /missing HTTP/1.1\r\nHost: x\r\n\r\n", "HTTP/1.1 404 Not Found"},
		{"non-get", "POST / HTTP/1.1\r\nHost: x\r\n\r\n", "HTTP/1.1 400 Bad Request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := dialWithRetry(t, addr)
			defer conn.Close()
			if _, err := conn.Write([]byte(tc.request)); err != nil {
				t.Fatalf("write: %v", err)
			}
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			line, err := bufio.NewReader(conn).ReadString('\n')
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			line = line[:len(line)-1]
			if got := trimCR(line); got != tc.wantStatus {
				t.Fatalf("status line = %q, want %q", got, tc.wantStatus)
			}
		})
	}
}

func trimCR(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\r' {
		return s[:len(s)-1]
	}
	return s
}

func TestReactor_ReplyWriteFailureTearsDownExactlyOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockEventHandler(ctrl)
	mock.EXPECT().HandlerAPIVersion().Return("1.0.0").AnyTimes()
	mock.EXPECT().FrameLength(gomock.Any()).DoAndReturn(func(buf []byte) int {
		for i, b := range buf {
			if b == '\n' {
				return i + 1
			}
		}
		return 0
	}).AnyTimes()
	mock.EXPECT().OnConnection(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	// The reply itself is what fails (simulating a write-side EPIPE
	// discovered synchronously inside the same OnMessage call that
	// produced it): returning an error from OnMessage drives the same
	// teardownNow path as a fatal write error, and the test is really
	// about OnDisconnect firing exactly once regardless of cause.
	mock.EXPECT().OnMessage(gomock.Any(), gomock.Any()).Return(handler.Action{}, errUnrecoverable)

	disconnects := make(chan handler.DisconnectReason, 2)
	mock.EXPECT().OnDisconnect(gomock.Any(), gomock.Any()).Do(func(_ uint64, reason handler.DisconnectReason) {
		disconnects <- reason
	}).Times(1) // gomock itself fails the test if called a second time

	r, sd := newTestReactor(t, mock)
	runInBackground(t, r, sd)

	conn := dialWithRetry(t, r.ListenAddr())
	defer conn.Close()
	if _, err := conn.Write([]byte("ping\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-disconnects:
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnect not called")
	}

	// Give any erroneous second teardown attempt a chance to run before
	// the deferred ctrl.Finish (invoked via t.Cleanup by gomock.NewController)
	// checks the call count.
	time.Sleep(50 * time.Millisecond)
}

func TestReactor_ShutdownTearsDownIdleConnectionsPromptly(t *testing.T) {
	cfg := testConfig()
	cfg.ShutdownDrainDeadlineMs = 5000 // must not matter: idle conns tear down immediately
	// The shutdown flag is only checked between epoll waits; a short wait
	// keeps that latency out of the measurement below.
	cfg.EpollWaitTimeoutMs = 50
	r, err := New(cfg, echo.New(testLogger()), testLogger(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sd := shutdown.New()
	done := make(chan error, 1)
	go func() { done <- r.Run(sd) }()

	conn := dialWithRetry(t, r.ListenAddr())
	defer conn.Close()
	time.Sleep(20 * time.Millisecond) // let the accept loop register it

	start := time.Now()
	sd.Request()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on cooperative shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after shutdown request")
	}

	// The idle connection has nothing queued, so shutdown must not wait
	// anywhere near the (long) configured drain deadline.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("shutdown took %v, want well under the drain deadline (idle connections should tear down immediately)", elapsed)
	}
}

func TestReactor_ShutdownDrainsThenReturns(t *testing.T) {
	r, sd := newTestReactor(t, echo.New(testLogger()))
	done := make(chan error, 1)
	go func() { done <- r.Run(sd) }()

	conn := dialWithRetry(t, r.ListenAddr())
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)
	sd.Request()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on cooperative shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after shutdown request")
	}
}
