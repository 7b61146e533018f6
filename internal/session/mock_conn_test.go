package session

import (
	"errors"
	"net"
	"sync"
	"time"
)

// mockConn is a datagram-style net.Conn for testing. Each queued read is
// returned by exactly one Read; Read blocks while the queue is empty.
type mockConn struct {
	mu         sync.RWMutex
	reads      chan []byte
	readErr    error
	writes     [][]byte
	writeErr   error
	closeErr   error
	localAddr  net.Addr
	remoteAddr net.Addr
	closed     bool
	done       chan struct{}
	written    chan struct{}
}

// newMockConn creates a new mock connection.
func newMockConn(localAddr, remoteAddr net.Addr) *mockConn {
	return &mockConn{
		reads:      make(chan []byte, 16),
		localAddr:  localAddr,
		remoteAddr: remoteAddr,
		done:       make(chan struct{}),
		written:    make(chan struct{}, 16),
	}
}

// Read implements net.Conn
func (m *mockConn) Read(b []byte) (int, error) {
	m.mu.RLock()
	readErr := m.readErr
	m.mu.RUnlock()
	if readErr != nil {
		return 0, readErr
	}
	select {
	case data := <-m.reads:
		return copy(b, data), nil
	case <-m.done:
		return 0, net.ErrClosed
	}
}

// Write implements net.Conn
func (m *mockConn) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, net.ErrClosed
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.writes = append(m.writes, append([]byte(nil), b...))
	select {
	case m.written <- struct{}{}:
	default:
	}
	return len(b), nil
}

// Close implements net.Conn
func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return net.ErrClosed
	}
	m.closed = true
	close(m.done)
	return m.closeErr
}

func (m *mockConn) LocalAddr() net.Addr                { return m.localAddr }
func (m *mockConn) RemoteAddr() net.Addr               { return m.remoteAddr }
func (m *mockConn) SetDeadline(t time.Time) error      { return nil }
func (m *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }

// queueRead makes data available to the next Read.
func (m *mockConn) queueRead(data []byte) {
	m.reads <- data
}

func (m *mockConn) setReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

func (m *mockConn) setWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// getWrites returns a copy of every datagram written so far.
func (m *mockConn) getWrites() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// waitWrites blocks until n datagrams were written or the timeout expires.
func (m *mockConn) waitWrites(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if len(m.getWrites()) >= n {
			return true
		}
		select {
		case <-m.written:
		case <-deadline:
			return false
		}
	}
}

func (m *mockConn) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

var errMockWrite = errors.New("write error")
