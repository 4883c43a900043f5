package notify

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	calls atomic.Int32
	err   error
}

func (s *stubSender) Name() string { return "stub" }

func (s *stubSender) Send(context.Context, Message) error {
	s.calls.Add(1)
	return s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVerificationMessage(t *testing.T) {
	msg := VerificationMessage("alice@x.com", "tok123")

	assert.Equal(t, "alice@x.com", msg.To)
	assert.Equal(t, "Verify your email", msg.Subject)
	assert.Equal(t, "Your verification token: tok123", msg.Body)
}

func TestResetMessage(t *testing.T) {
	msg := ResetMessage("bob@x.com", "http://localhost:5000/reset-password/abc", 15*time.Minute)

	assert.Equal(t, "Password Reset Request", msg.Subject)
	assert.Equal(t, "Click the link below to reset your password (valid for 15 minutes):\n\nhttp://localhost:5000/reset-password/abc", msg.Body)

	assert.Contains(t, ResetMessage("b", "l", time.Hour).Body, "valid for 1 hour")
	assert.Contains(t, ResetMessage("b", "l", 90*time.Second).Body, "valid for 90 seconds")
}

func TestLogSender_MasksRecipient(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewJSONHandler(&buf, nil)), false)

	require.NoError(t, s.Send(context.Background(), VerificationMessage("alice@x.com", "secret-token")))

	out := buf.String()
	assert.Contains(t, out, "a***@x.com")
	assert.NotContains(t, out, "alice@x.com")
	assert.NotContains(t, out, "secret-token")
	assert.Equal(t, "log", s.Name())
}

func TestLogSender_LogsBodyWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewJSONHandler(&buf, nil)), true)

	require.NoError(t, s.Send(context.Background(), VerificationMessage("alice@x.com", "secret-token")))
	assert.Contains(t, buf.String(), "secret-token")
}

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxRequests: 1, Timeout: time.Hour, MinRequests: 3, FailureRatio: 0.5}
}

func TestBreakerSender_TripsAfterFailures(t *testing.T) {
	next := &stubSender{err: errors.New("421 service not available")}
	s := NewBreakerSender(next, testBreakerConfig(), discardLogger())

	for i := 0; i < 3; i++ {
		assert.Error(t, s.Send(context.Background(), Message{}))
	}
	assert.Equal(t, gobreaker.StateOpen, s.State())
	assert.Equal(t, float64(2), testutil.ToFloat64(breakerState.WithLabelValues("stub")))

	err := s.Send(context.Background(), Message{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), next.calls.Load(), "open breaker must not call through")
}

func TestBreakerSender_CancelledContextDoesNotTrip(t *testing.T) {
	next := &stubSender{err: context.Canceled}
	s := NewBreakerSender(next, testBreakerConfig(), discardLogger())

	for i := 0; i < 5; i++ {
		_ = s.Send(context.Background(), Message{})
	}
	assert.Equal(t, gobreaker.StateClosed, s.State())
}

func TestBreakerSender_PassesThroughSuccess(t *testing.T) {
	next := &stubSender{}
	s := NewBreakerSender(next, testBreakerConfig(), discardLogger())

	require.NoError(t, s.Send(context.Background(), Message{}))
	assert.Equal(t, "stub", s.Name())
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestThrottledSender_WaitsWithinContext(t *testing.T) {
	next := &stubSender{}
	s := NewThrottledSender(next, 0.001, 1)

	require.NoError(t, s.Send(context.Background(), Message{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Send(ctx, Message{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mail throttle")
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestThrottledSender_AllowsBurst(t *testing.T) {
	next := &stubSender{}
	s := NewThrottledSender(next, 1, 3)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Send(context.Background(), Message{}))
	}
	assert.Equal(t, int32(3), next.calls.Load())
}

// fakeSMTP accepts one plain SMTP session per connection and records DATA.
type fakeSMTP struct {
	ln   net.Listener
	mu   sync.Mutex
	data []string
	wg   sync.WaitGroup
}

func startFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeSMTP{ln: ln}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.serve(conn)
			}()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		s.wg.Wait()
	})
	return s
}

func (s *fakeSMTP) serve(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }

	reply("220 localhost ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250 localhost")
		case cmd == "DATA":
			reply("354 end with <CRLF>.<CRLF>")
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			s.mu.Lock()
			s.data = append(s.data, body.String())
			s.mu.Unlock()
			reply("250 queued")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func (s *fakeSMTP) port(t *testing.T) int {
	_, p, err := net.SplitHostPort(s.ln.Addr().String())
	require.NoError(t, err)
	n, err := strconv.Atoi(p)
	require.NoError(t, err)
	return n
}

func (s *fakeSMTP) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.data...)
}

func TestSMTPSender_Delivers(t *testing.T) {
	srv := startFakeSMTP(t)
	s := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: srv.port(t), From: "noreply@authgate.test"})

	err := s.Send(context.Background(), VerificationMessage("alice@x.com", "tok-42"))
	require.NoError(t, err)

	msgs := srv.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Subject: Verify your email")
	assert.Contains(t, msgs[0], "alice@x.com")
	assert.Contains(t, msgs[0], "tok-42")
	assert.Equal(t, "smtp", s.Name())
}

func TestSMTPSender_InvalidRecipient(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: 25, From: "noreply@authgate.test"})

	err := s.Send(context.Background(), Message{To: "not an address"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set recipient")
}

func TestSMTPSender_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	s := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: port, From: "noreply@authgate.test", Timeout: time.Second})
	err = s.Send(context.Background(), VerificationMessage("alice@x.com", "t"))
	assert.Error(t, err)
}
