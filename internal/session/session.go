package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stratodata/groundlink/internal/monitoring"
	"github.com/stratodata/groundlink/internal/telemetry"
)

// State is the connection lifecycle of a session. Closing is transient:
// monitoring stops, the transport closes, and the session returns to
// Disconnected.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// completionMarkers end a synchronous command exchange. Matching is a
// case-insensitive substring scan of each response line; the device firmware
// is not consistent about which one it emits.
var completionMarkers = []string{"OK", "ERROR", "DONE", "FAIL", "SUCCESS"}

func hasCompletionMarker(line string) bool {
	upper := strings.ToUpper(line)
	for _, m := range completionMarkers {
		if strings.Contains(upper, m) {
			return true
		}
	}
	return false
}

// Timing defaults for the session loops.
const (
	defaultCommandTimeout = 5 * time.Second
	defaultPollInterval   = 10 * time.Millisecond
	readRetryDelay        = 1 * time.Second
	stopTimeout           = 2 * time.Second
	readChunkSize         = 1024
)

// Config parameterizes a Session. The zero value plus a Channel is usable;
// everything else has working defaults.
type Config struct {
	// Channel selects the logical link. The radio-link channel switches
	// SendCommand to fire-and-forget.
	Channel Channel

	// PortOptions configures the serial line when a real port is opened.
	PortOptions PortOptions

	// CommandTimeout bounds SendCommand when the caller passes no timeout.
	CommandTimeout time.Duration

	// PollInterval is the idle sleep between transport polls.
	PollInterval time.Duration

	// QueueCapacity bounds the event queue (default 100).
	QueueCapacity int

	// Binary switches the monitoring loop from newline-delimited text to
	// raw 34-byte telemetry frames.
	Binary bool

	// USBIDs overrides the discovery table. Defaults to DefaultUSBIDs.
	USBIDs map[Channel]USBID

	// Open overrides how transports are opened. Defaults to OpenSerialPort.
	Open PortOpener

	// ListPorts overrides port enumeration for discovery.
	ListPorts PortLister
}

func (c Config) open(path string) (Porter, error) {
	if c.Open != nil {
		return c.Open(path, c.PortOptions)
	}
	return OpenSerialPort(path, c.PortOptions)
}

func (c Config) usbIDs() map[Channel]USBID {
	if c.USBIDs != nil {
		return c.USBIDs
	}
	return DefaultUSBIDs()
}

func (c Config) commandTimeout() time.Duration {
	if c.CommandTimeout > 0 {
		return c.CommandTimeout
	}
	return defaultCommandTimeout
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return defaultPollInterval
}

// ConnectionInfo is a snapshot of the session state for status reporting.
type ConnectionInfo struct {
	State    State     `json:"state"`
	Channel  Channel   `json:"channel"`
	Port     string    `json:"port,omitempty"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// Session owns one physical serial connection: at most one open transport
// handle per port, one in-flight command at a time, and at most one
// background monitoring goroutine. Sessions are constructed and owned
// explicitly by the caller; there is no process-wide instance.
type Session struct {
	cfg   Config
	queue *EventQueue

	// mu guards the transport handle and lifecycle state.
	mu       sync.Mutex
	port     Porter
	portName string
	state    State
	lastSeen time.Time

	// cmdMu serializes command exchanges: a single in-flight command per
	// session is the enforced invariant.
	cmdMu sync.Mutex

	// ioMu guards transport reads so a command exchange temporarily owns
	// the inbound byte stream; the monitoring loop acquires it per poll.
	ioMu sync.Mutex

	// monMu guards the monitoring lifecycle state machine.
	monMu     sync.Mutex
	monCancel context.CancelFunc
	monDone   chan struct{}
	onRecord  func(telemetry.Record)

	// live-record chain: the first packet of a stream defines the epoch and
	// each record keeps the previous one for speed differentiation. Owned by
	// the monitoring goroutine.
	epochSet bool
	epochMs  uint32
	prevRec  *telemetry.Record
}

// New creates a disconnected session for the configured channel.
func New(cfg Config) *Session {
	return &Session{
		cfg:   cfg,
		queue: NewEventQueue(cfg.QueueCapacity),
		state: StateDisconnected,
	}
}

// Events returns the session's event queue.
func (s *Session) Events() *EventQueue { return s.queue }

// Channel returns the logical channel this session serves.
func (s *Session) Channel() Channel { return s.cfg.Channel }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the connection.
func (s *Session) Status() ConnectionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ConnectionInfo{
		State:    s.state,
		Channel:  s.cfg.Channel,
		Port:     s.portName,
		LastSeen: s.lastSeen,
	}
}

// Connect opens the transport. An empty portName triggers auto-discovery by
// USB vendor/product identifier; ErrNoDeviceFound is returned when nothing
// matches. Connecting while already connected closes the previous handle
// first, so reconnecting is idempotent rather than an error.
func (s *Session) Connect(portName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateConnecting

	if portName == "" {
		name, err := s.discoverLocked()
		if err != nil {
			s.state = StateDisconnected
			return err
		}
		portName = name
	}

	if s.port != nil {
		s.port.Close()
		s.port = nil
	}

	port, err := s.cfg.open(portName)
	if err != nil {
		s.state = StateDisconnected
		return fmt.Errorf("open %s: %w", portName, err)
	}
	if tp, ok := port.(TimeoutPorter); ok {
		// best effort; transports without timeouts still work, polling is
		// just coarser
		_ = tp.SetReadTimeout(portReadTimeout)
	}

	s.port = port
	s.portName = portName
	s.state = StateConnected
	s.lastSeen = time.Now()
	s.queue.Clear()

	monitoring.Logf("session: connected %s channel on %s", s.cfg.Channel, portName)
	return nil
}

func (s *Session) discoverLocked() (string, error) {
	lister := s.cfg.ListPorts
	var (
		found map[Channel][]string
		err   error
	)
	if lister != nil {
		found, err = findPortsWith(lister, s.cfg.usbIDs())
	} else {
		found, err = FindPorts(s.cfg.usbIDs())
	}
	if err != nil {
		return "", fmt.Errorf("scan ports: %w", err)
	}
	ports := found[s.cfg.Channel]
	if len(ports) == 0 {
		return "", fmt.Errorf("%w for channel %s", ErrNoDeviceFound, s.cfg.Channel)
	}
	return ports[0], nil
}

// Disconnect stops monitoring, closes the transport and returns the session
// to Disconnected. Safe to call when already disconnected.
func (s *Session) Disconnect() error {
	s.StopMonitoring()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		s.state = StateDisconnected
		return nil
	}

	s.state = StateClosing
	err := s.port.Close()
	s.port = nil
	s.portName = ""
	s.state = StateDisconnected
	monitoring.Logf("session: disconnected %s channel", s.cfg.Channel)
	return err
}

// Close is Disconnect; it exists so a Session satisfies io.Closer in caller
// teardown paths.
func (s *Session) Close() error { return s.Disconnect() }

// SendCommand writes a newline-terminated command and collects response
// lines until one carries a completion marker or the timeout elapses. On
// timeout the accumulated partial response is returned with a nil error:
// best-effort output beats a hard failure against firmware with inconsistent
// line termination. A zero timeout selects the configured default.
//
// On the radio-link channel commands are fire-and-forget: the write
// completes and any response arrives later through the monitoring stream.
func (s *Session) SendCommand(command string, timeout time.Duration) (string, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.mu.Lock()
	port := s.port
	connected := s.state == StateConnected
	s.mu.Unlock()
	if !connected || port == nil {
		return "", ErrNotConnected
	}

	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	if _, err := port.Write([]byte(command)); err != nil {
		return "", fmt.Errorf("write command: %w", err)
	}
	s.touch()

	if s.cfg.Channel == ChannelRadioLink {
		return "", nil
	}

	if timeout <= 0 {
		timeout = s.cfg.commandTimeout()
	}
	deadline := time.Now().Add(timeout)

	// Own the inbound stream for the whole exchange so the monitoring loop
	// cannot consume the response.
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	var framer LineFramer
	var lines []string
	buf := make([]byte, readChunkSize)

	for time.Now().Before(deadline) {
		n, err := port.Read(buf)
		if err != nil {
			return strings.Join(lines, "\n"), fmt.Errorf("read response: %w", err)
		}
		if n == 0 {
			time.Sleep(s.cfg.pollInterval())
			continue
		}
		s.touch()
		framer.Feed(buf[:n])
		for _, line := range framer.Drain() {
			lines = append(lines, line)
			if hasCompletionMarker(line) {
				return strings.Join(lines, "\n"), nil
			}
		}
	}

	if rest := framer.FlushPartial(); rest != "" {
		lines = append(lines, rest)
	}
	return strings.Join(lines, "\n"), nil
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// StartMonitoring launches the background monitoring goroutine. Exactly one
// runs per session; calling again while running is a no-op. onRecord, when
// non-nil, is invoked synchronously from the monitoring goroutine for every
// decoded telemetry record, in addition to the queued event.
func (s *Session) StartMonitoring(onRecord func(telemetry.Record)) {
	s.monMu.Lock()
	defer s.monMu.Unlock()
	if s.monDone != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.monCancel = cancel
	s.monDone = done
	s.onRecord = onRecord
	s.epochSet = false
	s.prevRec = nil

	go s.monitorLoop(ctx, done)
	monitoring.Logf("session: monitoring started on %s channel", s.cfg.Channel)
}

// StopMonitoring cancels the monitoring goroutine and blocks until it has
// exited (bounded by stopTimeout), guaranteeing no further events are
// produced after return. Idempotent, and a no-op if monitoring never
// started.
func (s *Session) StopMonitoring() {
	s.monMu.Lock()
	cancel := s.monCancel
	done := s.monDone
	s.monCancel = nil
	s.monDone = nil
	s.monMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		monitoring.Logf("session: monitor loop did not stop within %s", stopTimeout)
	}
	monitoring.Logf("session: monitoring stopped on %s channel", s.cfg.Channel)
}

// monitorLoop polls the transport, frames inbound bytes and publishes
// stream events. A read error is surfaced as an Error event followed by a
// backoff-retry of the read; a missing or closed port is never redialed
// here, the caller must reconnect explicitly.
func (s *Session) monitorLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	var framer LineFramer
	var frameBuf []byte
	buf := make([]byte, readChunkSize)

	for {
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		port := s.port
		connected := s.state == StateConnected
		s.mu.Unlock()
		if !connected || port == nil {
			if !sleepCtx(ctx, readRetryDelay) {
				return
			}
			continue
		}

		s.ioMu.Lock()
		n, err := port.Read(buf)
		s.ioMu.Unlock()

		if err != nil {
			s.queue.Push(StreamEvent{
				Kind:      EventError,
				Err:       fmt.Errorf("transport read: %w", err),
				Timestamp: time.Now(),
			})
			if !sleepCtx(ctx, readRetryDelay) {
				return
			}
			continue
		}
		if n == 0 {
			if !sleepCtx(ctx, s.cfg.pollInterval()) {
				return
			}
			continue
		}

		s.touch()
		if s.cfg.Binary {
			frameBuf = s.consumeFrames(append(frameBuf, buf[:n]...))
			continue
		}

		framer.Feed(buf[:n])
		for _, line := range framer.Drain() {
			s.handleLine(line)
		}
	}
}

// consumeFrames decodes every complete 34-byte frame from the accumulated
// buffer and returns the unconsumed remainder.
func (s *Session) consumeFrames(buf []byte) []byte {
	for len(buf) >= telemetry.PacketSize {
		p, err := telemetry.DecodePacket(buf[:telemetry.PacketSize])
		buf = buf[telemetry.PacketSize:]
		if err != nil {
			monitoring.Logf("session: skipping live frame: %v", err)
			continue
		}
		s.publishPacket(p)
	}
	return buf
}

// handleLine classifies one drained line. A {...} line is parsed as a JSON
// telemetry record; a malformed one is logged and skipped, never fatal.
// Everything else is terminal output.
func (s *Session) handleLine(line string) {
	if strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}") {
		p, err := telemetry.ParseLine(line)
		if err != nil {
			monitoring.Logf("session: %v", err)
			return
		}
		s.publishPacket(p)
		return
	}

	s.queue.Push(StreamEvent{
		Kind:      EventTerminal,
		Line:      line,
		Timestamp: time.Now(),
	})
}

func (s *Session) publishPacket(p telemetry.Packet) {
	if !s.epochSet {
		s.epochSet = true
		s.epochMs = p.TimeMs
	}
	rec := telemetry.NewRecord(p, s.epochMs, s.prevRec)
	s.prevRec = &rec

	s.queue.Push(StreamEvent{
		Kind:      EventTelemetry,
		Record:    &rec,
		Timestamp: time.Now(),
	})
	if s.onRecord != nil {
		s.onRecord(rec)
	}
}

// Ping sends PING and reports whether the device answered PONG.
func (s *Session) Ping(timeout time.Duration) bool {
	resp, err := s.SendCommand("PING", timeout)
	return err == nil && strings.Contains(strings.ToUpper(resp), "PONG")
}

// sleepCtx sleeps for d or until ctx is cancelled; it reports whether the
// full sleep completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
