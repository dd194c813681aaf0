package relay

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// bufferSize is the chunk size for each forwarding direction. A direction
// never reads ahead: the next read waits until the previous chunk has been
// written out in full, which is the relay's only backpressure mechanism.
const bufferSize = 8192

// Bridge pairs one accepted client connection with one upstream connection
// and forwards bytes in both directions until either leg closes or errors,
// at which point both legs are closed.
type Bridge struct {
	clientConn   net.Conn
	upstreamConn net.Conn

	clientBuf   []byte // client -> upstream
	upstreamBuf []byte // upstream -> client

	closeMu sync.Mutex
	closed  bool

	bytesUp   atomic.Int64
	bytesDown atomic.Int64
}

func NewBridge(clientConn net.Conn) *Bridge {
	return &Bridge{
		clientConn:  clientConn,
		clientBuf:   make([]byte, bufferSize),
		upstreamBuf: make([]byte, bufferSize),
	}
}

// DialUpstream opens the upstream leg. One-shot: on failure the client
// connection is closed and the bridge is unusable; there is no retry and
// no fallback target. A timeout of 0 means no dial timeout.
func (b *Bridge) DialUpstream(addr string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		_ = b.clientConn.Close()
		return err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	b.upstreamConn = conn
	return nil
}

// Run drives both forwarding directions and blocks until both have
// terminated. By the time it returns, both connections are closed.
// DialUpstream must have succeeded first.
func (b *Bridge) Run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.forward(b.clientConn, b.upstreamConn, b.clientBuf, &b.bytesUp)
	}()
	go func() {
		defer wg.Done()
		b.forward(b.upstreamConn, b.clientConn, b.upstreamBuf, &b.bytesDown)
	}()
	wg.Wait()
}

// forward runs one direction's read/write cycle. Each chunk is written out
// in full before the next read. EOF and hard errors get the same
// treatment: this leg is done, so both legs are shut down.
func (b *Bridge) forward(src, dst net.Conn, buf []byte, total *atomic.Int64) {
	defer b.CloseBoth()
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
			total.Add(int64(n))
		}
		if err != nil {
			return
		}
	}
}

// CloseBoth closes both legs. Idempotent and safe to call from both
// forwarding goroutines concurrently; each leg is closed independently.
func (b *Bridge) CloseBoth() {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	_ = b.clientConn.Close()
	if b.upstreamConn != nil {
		_ = b.upstreamConn.Close()
	}
}

// BytesUp reports bytes delivered client -> upstream so far.
func (b *Bridge) BytesUp() int64 { return b.bytesUp.Load() }

// BytesDown reports bytes delivered upstream -> client so far.
func (b *Bridge) BytesDown() int64 { return b.bytesDown.Load() }
