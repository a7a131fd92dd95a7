package session

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// TestablePort implements Porter with scriptable behaviour. Reads drain a
// buffer that tests refill with AddReadData; an empty buffer reads as
// (0, nil), matching a real serial port with a read timeout, so the
// session's polling loops behave the same against it.
type TestablePort struct {
	mu sync.Mutex

	readBuffer  bytes.Buffer
	writeBuffer bytes.Buffer

	// ReadErr is returned by the next Read call, then cleared.
	ReadErr error
	// WriteErr is returned by the next Write call, then cleared.
	WriteErr error
	// CloseErr is returned by Close.
	CloseErr error

	closed      bool
	readCalls   int
	writeCalls  int
	readTimeout time.Duration
}

// NewTestablePort creates an open scriptable port.
func NewTestablePort() *TestablePort {
	return &TestablePort{}
}

func (t *TestablePort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.readCalls++
	if t.closed {
		return 0, errors.New("port closed")
	}
	if t.ReadErr != nil {
		err := t.ReadErr
		t.ReadErr = nil
		return 0, err
	}
	if t.readBuffer.Len() == 0 {
		return 0, nil
	}
	return t.readBuffer.Read(p)
}

func (t *TestablePort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.writeCalls++
	if t.closed {
		return 0, errors.New("port closed")
	}
	if t.WriteErr != nil {
		err := t.WriteErr
		t.WriteErr = nil
		return 0, err
	}
	return t.writeBuffer.Write(p)
}

func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return t.CloseErr
}

// SetReadTimeout implements TimeoutPorter; the value is recorded only.
func (t *TestablePort) SetReadTimeout(d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readTimeout = d
	return nil
}

// AddReadData queues bytes for subsequent Read calls.
func (t *TestablePort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readBuffer.Write(data)
}

// Written returns everything written to the port so far.
func (t *TestablePort) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.writeBuffer.Bytes()...)
}

// Closed reports whether Close was called.
func (t *TestablePort) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// ReadCalls returns how many times Read was invoked.
func (t *TestablePort) ReadCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readCalls
}
