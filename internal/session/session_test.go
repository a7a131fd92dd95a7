package session

import (
	"bytes"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.bug.st/serial/enumerator"

	"github.com/stratodata/groundlink/internal/telemetry"
)

// newTestSession builds a connected session backed by a TestablePort.
func newTestSession(t *testing.T, cfg Config) (*Session, *TestablePort) {
	t.Helper()

	port := NewTestablePort()
	cfg.Open = func(string, PortOptions) (Porter, error) { return port, nil }
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}

	s := New(cfg)
	if err := s.Connect("/dev/mock"); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(func() { s.Disconnect() })
	return s, port
}

func TestConnectLifecycle(t *testing.T) {
	s, port := newTestSession(t, Config{Channel: ChannelDevice})

	if got := s.State(); got != StateConnected {
		t.Errorf("State() = %v, want connected", got)
	}
	status := s.Status()
	if status.Port != "/dev/mock" || status.Channel != ChannelDevice {
		t.Errorf("Status() = %+v, want port /dev/mock on device channel", status)
	}
	if status.LastSeen.IsZero() {
		t.Error("Status().LastSeen is zero after connect")
	}

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	if !port.Closed() {
		t.Error("transport not closed on disconnect")
	}
	if got := s.State(); got != StateDisconnected {
		t.Errorf("State() after disconnect = %v, want disconnected", got)
	}

	// Disconnecting again is a no-op.
	if err := s.Disconnect(); err != nil {
		t.Errorf("second Disconnect() error: %v", err)
	}
}

func TestConnectReplacesPreviousTransport(t *testing.T) {
	first := NewTestablePort()
	second := NewTestablePort()
	ports := []*TestablePort{first, second}
	var opened int

	s := New(Config{
		Channel: ChannelDevice,
		Open: func(string, PortOptions) (Porter, error) {
			p := ports[opened]
			opened++
			return p, nil
		},
	})
	defer s.Disconnect()

	if err := s.Connect("/dev/a"); err != nil {
		t.Fatalf("first Connect() error: %v", err)
	}
	if err := s.Connect("/dev/b"); err != nil {
		t.Fatalf("second Connect() error: %v", err)
	}

	if !first.Closed() {
		t.Error("previous transport left open after reconnect")
	}
	if second.Closed() {
		t.Error("current transport closed")
	}
	if got := s.Status().Port; got != "/dev/b" {
		t.Errorf("Status().Port = %q, want /dev/b", got)
	}
}

func TestConnectOpenFailure(t *testing.T) {
	boom := errors.New("no such device")
	s := New(Config{
		Channel: ChannelDevice,
		Open:    func(string, PortOptions) (Porter, error) { return nil, boom },
	})

	err := s.Connect("/dev/absent")
	if !errors.Is(err, boom) {
		t.Errorf("Connect() error = %v, want %v", err, boom)
	}
	if got := s.State(); got != StateDisconnected {
		t.Errorf("State() after failed connect = %v, want disconnected", got)
	}
}

func TestConnectAutoDiscovery(t *testing.T) {
	port := NewTestablePort()
	var openedPath string
	s := New(Config{
		Channel: ChannelDevice,
		Open: func(path string, _ PortOptions) (Porter, error) {
			openedPath = path
			return port, nil
		},
		ListPorts: func() ([]*enumerator.PortDetails, error) {
			return []*enumerator.PortDetails{
				{Name: "/dev/ttyACM3", IsUSB: true, VID: "0483", PID: "5740"},
			}, nil
		},
	})
	defer s.Disconnect()

	if err := s.Connect(""); err != nil {
		t.Fatalf("Connect(\"\") error: %v", err)
	}
	if openedPath != "/dev/ttyACM3" {
		t.Errorf("opened %q, want discovered /dev/ttyACM3", openedPath)
	}
}

func TestConnectDiscoveryNoDevice(t *testing.T) {
	s := New(Config{
		Channel:   ChannelDevice,
		ListPorts: func() ([]*enumerator.PortDetails, error) { return nil, nil },
	})

	err := s.Connect("")
	if !errors.Is(err, ErrNoDeviceFound) {
		t.Errorf("Connect(\"\") error = %v, want ErrNoDeviceFound", err)
	}
	if got := s.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", got)
	}
}

func TestSendCommandNotConnected(t *testing.T) {
	s := New(Config{Channel: ChannelDevice})
	if _, err := s.SendCommand("STATUS", time.Second); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendCommand() error = %v, want ErrNotConnected", err)
	}
}

func TestSendCommandCollectsUntilMarker(t *testing.T) {
	s, port := newTestSession(t, Config{Channel: ChannelDevice})
	port.AddReadData([]byte("line one\nline two\nOK\nlater noise\n"))

	resp, err := s.SendCommand("STATUS", time.Second)
	if err != nil {
		t.Fatalf("SendCommand() error: %v", err)
	}
	want := "line one\nline two\nOK"
	if resp != want {
		t.Errorf("SendCommand() = %q, want %q", resp, want)
	}
	if got := port.Written(); !bytes.Equal(got, []byte("STATUS\n")) {
		t.Errorf("wrote %q, want %q", got, "STATUS\n")
	}
}

func TestSendCommandMarkerIsCaseInsensitive(t *testing.T) {
	s, port := newTestSession(t, Config{Channel: ChannelDevice})
	port.AddReadData([]byte("upload done\n"))

	resp, err := s.SendCommand("UPLOAD", time.Second)
	if err != nil {
		t.Fatalf("SendCommand() error: %v", err)
	}
	if resp != "upload done" {
		t.Errorf("SendCommand() = %q, want %q", resp, "upload done")
	}
}

func TestSendCommandTimeoutReturnsPartial(t *testing.T) {
	s, port := newTestSession(t, Config{Channel: ChannelDevice})
	port.AddReadData([]byte("header\nno terminator yet"))

	resp, err := s.SendCommand("DUMP", 80*time.Millisecond)
	if err != nil {
		t.Fatalf("SendCommand() on timeout must not error, got: %v", err)
	}
	want := "header\nno terminator yet"
	if resp != want {
		t.Errorf("SendCommand() = %q, want partial %q", resp, want)
	}
}

func TestSendCommandReadError(t *testing.T) {
	s, port := newTestSession(t, Config{Channel: ChannelDevice})
	port.ReadErr = errors.New("io failure")

	_, err := s.SendCommand("STATUS", time.Second)
	if err == nil || !strings.Contains(err.Error(), "io failure") {
		t.Errorf("SendCommand() error = %v, want wrapped io failure", err)
	}
}

func TestSendCommandWriteError(t *testing.T) {
	s, port := newTestSession(t, Config{Channel: ChannelDevice})
	port.WriteErr = errors.New("write failure")

	_, err := s.SendCommand("STATUS", time.Second)
	if err == nil || !strings.Contains(err.Error(), "write failure") {
		t.Errorf("SendCommand() error = %v, want wrapped write failure", err)
	}
}

func TestSendCommandRadioLinkIsFireAndForget(t *testing.T) {
	s, port := newTestSession(t, Config{Channel: ChannelRadioLink})

	start := time.Now()
	resp, err := s.SendCommand("EJECT", 5*time.Second)
	if err != nil {
		t.Fatalf("SendCommand() error: %v", err)
	}
	if resp != "" {
		t.Errorf("SendCommand() = %q, want empty fire-and-forget response", resp)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("radio-link command blocked for %s", elapsed)
	}
	if got := port.Written(); !bytes.Equal(got, []byte("EJECT\n")) {
		t.Errorf("wrote %q, want %q", got, "EJECT\n")
	}
}

func TestPing(t *testing.T) {
	s, port := newTestSession(t, Config{Channel: ChannelDevice})

	port.AddReadData([]byte("PONG\nOK\n"))
	if !s.Ping(time.Second) {
		t.Error("Ping() = false, want true for a PONG response")
	}

	port.AddReadData([]byte("ERROR\n"))
	if s.Ping(time.Second) {
		t.Error("Ping() = true, want false without PONG")
	}
}

func waitForEvent(t *testing.T, ch <-chan StreamEvent, kind EventKind) StreamEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within deadline", kind)
		}
	}
}

func TestMonitoringTextStream(t *testing.T) {
	s, port := newTestSession(t, Config{Channel: ChannelDevice})
	id, ch := s.Events().Subscribe()
	defer s.Events().Unsubscribe(id)

	s.StartMonitoring(nil)
	defer s.StopMonitoring()

	port.AddReadData([]byte("boot complete\n"))
	ev := waitForEvent(t, ch, EventTerminal)
	if ev.Line != "boot complete" {
		t.Errorf("terminal line = %q, want %q", ev.Line, "boot complete")
	}

	port.AddReadData([]byte(`{"time_ms":1000,"pressure_pa":101325,"flags":128}` + "\n"))
	ev = waitForEvent(t, ch, EventTelemetry)
	if ev.Record == nil {
		t.Fatal("telemetry event carries no record")
	}
	if ev.Record.TimeMs != 1000 {
		t.Errorf("record time_ms = %d, want 1000", ev.Record.TimeMs)
	}
	if ev.Record.TimeS != 0 {
		t.Errorf("first record time_s = %v, want 0 (stream epoch)", ev.Record.TimeS)
	}
	if ev.Record.RSSIDbm != -60 {
		t.Errorf("record rssi = %d, want -60 with telemetry active", ev.Record.RSSIDbm)
	}
}

func TestMonitoringMalformedTelemetrySkipped(t *testing.T) {
	s, port := newTestSession(t, Config{Channel: ChannelDevice})
	id, ch := s.Events().Subscribe()
	defer s.Events().Unsubscribe(id)

	s.StartMonitoring(nil)
	defer s.StopMonitoring()

	// A malformed JSON line must not kill the loop or produce telemetry.
	port.AddReadData([]byte("{\"time_ms\": bogus}\nstill alive\n"))
	ev := waitForEvent(t, ch, EventTerminal)
	if ev.Line != "still alive" {
		t.Errorf("terminal line = %q, want %q", ev.Line, "still alive")
	}
}

func TestMonitoringBinaryStream(t *testing.T) {
	s, port := newTestSession(t, Config{Channel: ChannelDevice, Binary: true})
	id, ch := s.Events().Subscribe()
	defer s.Events().Unsubscribe(id)

	s.StartMonitoring(nil)
	defer s.StopMonitoring()

	frame := telemetry.EncodePacket(telemetry.Packet{TimeMs: 2500, PressurePa: 100000})

	// Split the frame across two reads; the loop must reassemble it.
	port.AddReadData(frame[:20])
	time.Sleep(20 * time.Millisecond)
	port.AddReadData(frame[20:])

	ev := waitForEvent(t, ch, EventTelemetry)
	if ev.Record.TimeMs != 2500 {
		t.Errorf("record time_ms = %d, want 2500", ev.Record.TimeMs)
	}
	if ev.Record.PressurePa != 100000 {
		t.Errorf("record pressure = %d, want 100000", ev.Record.PressurePa)
	}
}

func TestMonitoringReadErrorEvent(t *testing.T) {
	s, port := newTestSession(t, Config{Channel: ChannelDevice})
	id, ch := s.Events().Subscribe()
	defer s.Events().Unsubscribe(id)

	s.StartMonitoring(nil)
	defer s.StopMonitoring()

	port.ReadErr = errors.New("cable pulled")
	ev := waitForEvent(t, ch, EventError)
	if ev.Err == nil || !strings.Contains(ev.Err.Error(), "cable pulled") {
		t.Errorf("error event = %v, want wrapped read failure", ev.Err)
	}
	if got := s.State(); got != StateConnected {
		t.Errorf("State() after read error = %v, want connected (no auto-redial)", got)
	}
}

func TestMonitoringOnRecordCallback(t *testing.T) {
	s, port := newTestSession(t, Config{Channel: ChannelDevice})

	var calls atomic.Int32
	s.StartMonitoring(func(rec telemetry.Record) {
		calls.Add(1)
	})
	defer s.StopMonitoring()

	port.AddReadData([]byte(`{"time_ms":10}` + "\n" + `{"time_ms":20}` + "\n"))

	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("onRecord called %d times, want 2", got)
	}
}

func TestStartMonitoringIdempotent(t *testing.T) {
	s, port := newTestSession(t, Config{Channel: ChannelDevice})

	var calls atomic.Int32
	s.StartMonitoring(func(telemetry.Record) { calls.Add(1) })
	s.StartMonitoring(func(telemetry.Record) { calls.Add(100) })
	defer s.StopMonitoring()

	port.AddReadData([]byte(`{"time_ms":10}` + "\n"))
	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("callback count = %d; second StartMonitoring must be a no-op", got)
	}
}

func TestStopMonitoringIdempotent(t *testing.T) {
	s, _ := newTestSession(t, Config{Channel: ChannelDevice})

	// Stop without start is a no-op.
	s.StopMonitoring()

	s.StartMonitoring(nil)
	s.StopMonitoring()
	s.StopMonitoring()
}

func TestStopMonitoringHaltsEvents(t *testing.T) {
	s, port := newTestSession(t, Config{Channel: ChannelDevice})
	id, ch := s.Events().Subscribe()
	defer s.Events().Unsubscribe(id)

	s.StartMonitoring(nil)
	port.AddReadData([]byte("before stop\n"))
	waitForEvent(t, ch, EventTerminal)

	s.StopMonitoring()
	port.AddReadData([]byte("after stop\n"))

	select {
	case ev := <-ch:
		t.Errorf("received %s event %q after StopMonitoring returned", ev.Kind, ev.Line)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateClosing:      "closing",
		State(42):         "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestHasCompletionMarker(t *testing.T) {
	for line, want := range map[string]bool{
		"OK":               true,
		"ok":               true,
		"Transfer DONE":    true,
		"command failed":   true, // FAIL substring
		"ERROR: bad state": true,
		"success!":         true,
		"telemetry line":   false,
		"":                 false,
	} {
		if got := hasCompletionMarker(line); got != want {
			t.Errorf("hasCompletionMarker(%q) = %v, want %v", line, got, want)
		}
	}
}
