// Package debug provides an interactive terminal console showing live
// relay session statistics fed by the event bus.
package debug

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Versifine/strait/internal/event"
	"golang.org/x/term"
)

const defaultTickInterval = 500 * time.Millisecond

type sessionEntry struct {
	id           uint64
	clientAddr   string
	upstreamAddr string
	openedAt     time.Time
}

type Console struct {
	tickInterval time.Duration

	mu            sync.Mutex
	active        map[uint64]sessionEntry
	totalSessions uint64
	totalRefused  uint64
	bytesUp       int64
	bytesDown     int64
	commandMode   bool
	commandBuf    []rune
}

// NewConsole subscribes the console to bus; counters accumulate from that
// moment on, whether or not Start is ever called.
func NewConsole(bus *event.Bus) *Console {
	c := &Console{
		tickInterval: defaultTickInterval,
		active:       make(map[uint64]sessionEntry),
	}
	bus.Subscribe(event.EventSessionOpened, c.handleOpened)
	bus.Subscribe(event.EventSessionClosed, c.handleClosed)
	bus.Subscribe(event.EventSessionRefused, c.handleRefused)
	return c
}

func (c *Console) handleOpened(raw any) {
	evt, ok := raw.(*event.SessionOpened)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalSessions++
	c.active[evt.ID] = sessionEntry{
		id:           evt.ID,
		clientAddr:   evt.ClientAddr,
		upstreamAddr: evt.UpstreamAddr,
		openedAt:     time.Now(),
	}
}

func (c *Console) handleClosed(raw any) {
	evt, ok := raw.(*event.SessionClosed)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, evt.ID)
	c.bytesUp += evt.BytesUp
	c.bytesDown += evt.BytesDown
}

func (c *Console) handleRefused(raw any) {
	if _, ok := raw.(*event.SessionRefused); !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRefused++
}

// Start puts the terminal in raw mode and runs the key loop until ctx is
// canceled or the user quits. Must be attached to a real terminal.
func (c *Console) Start(ctx context.Context) error {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("set terminal raw mode: %w", err)
	}
	defer func() {
		_ = term.Restore(fd, oldState)
		fmt.Print("\r\n")
	}()

	fmt.Print("[debug] console started (x reset counters, : command mode, q quit)\r\n")
	c.renderStatusLine()

	go c.tickLoop(ctx)

	reader := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		b, err := reader.ReadByte()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read console input: %w", err)
		}
		if quit := c.handleKey(b); quit {
			return nil
		}
	}
}

func (c *Console) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.renderStatusLine()
		}
	}
}

func (c *Console) handleKey(b byte) (quit bool) {
	if c.isCommandMode() {
		c.handleCommandByte(b)
		return false
	}

	switch b {
	case ':':
		c.enterCommandMode()
		return false
	case 'x', 'X':
		c.resetCounters()
	case 'q', 'Q', 3: // q or Ctrl-C
		return true
	}
	c.renderStatusLine()
	return false
}

func (c *Console) isCommandMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commandMode
}

func (c *Console) enterCommandMode() {
	c.mu.Lock()
	c.commandMode = true
	c.commandBuf = c.commandBuf[:0]
	c.mu.Unlock()
	fmt.Print("\r\n:")
}

func (c *Console) handleCommandByte(b byte) {
	switch b {
	case 13, 10: // Enter
		c.mu.Lock()
		cmd := strings.TrimSpace(string(c.commandBuf))
		c.commandMode = false
		c.commandBuf = c.commandBuf[:0]
		c.mu.Unlock()

		fmt.Print("\r\n")
		if cmd != "" {
			c.executeCommand(cmd)
		}
		c.renderStatusLine()
	case 27: // ESC cancel command mode
		c.mu.Lock()
		c.commandMode = false
		c.commandBuf = c.commandBuf[:0]
		c.mu.Unlock()
		fmt.Print("\r\n[debug] command cancelled\r\n")
		c.renderStatusLine()
	case 8, 127: // Backspace
		c.mu.Lock()
		if len(c.commandBuf) > 0 {
			c.commandBuf = c.commandBuf[:len(c.commandBuf)-1]
		}
		buf := string(c.commandBuf)
		c.mu.Unlock()
		fmt.Printf("\r:%s ", buf)
		fmt.Printf("\r:%s", buf)
	default:
		if b < 32 || b > 126 {
			return
		}
		c.mu.Lock()
		c.commandBuf = append(c.commandBuf, rune(b))
		buf := string(c.commandBuf)
		c.mu.Unlock()
		fmt.Printf("\r:%s", buf)
	}
}

func (c *Console) executeCommand(cmd string) {
	switch cmd {
	case "help":
		c.printHelp()
	case "stats":
		snap := c.snapshot()
		fmt.Printf("[debug] sessions total=%d active=%d refused=%d up=%s down=%s\r\n",
			snap.totalSessions, len(snap.active), snap.totalRefused,
			formatBytes(snap.bytesUp), formatBytes(snap.bytesDown))
	case "sessions":
		snap := c.snapshot()
		if len(snap.active) == 0 {
			fmt.Print("[debug] no active sessions\r\n")
			return
		}
		entries := make([]sessionEntry, 0, len(snap.active))
		for _, e := range snap.active {
			entries = append(entries, e)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
		for _, e := range entries {
			fmt.Printf("[debug] #%d %s -> %s  age=%s\r\n",
				e.id, e.clientAddr, e.upstreamAddr, time.Since(e.openedAt).Round(time.Second))
		}
	default:
		fmt.Printf("[debug] unknown command: %s\r\n", cmd)
	}
}

func (c *Console) printHelp() {
	fmt.Print("[debug] keys:\r\n")
	fmt.Print("  x: reset cumulative counters\r\n")
	fmt.Print("  q: quit console\r\n")
	fmt.Print("  : enter command mode\r\n")
	fmt.Print("[debug] commands:\r\n")
	fmt.Print("  :sessions\r\n")
	fmt.Print("  :stats\r\n")
	fmt.Print("  :help\r\n")
}

func (c *Console) resetCounters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalSessions = uint64(len(c.active))
	c.totalRefused = 0
	c.bytesUp = 0
	c.bytesDown = 0
}

type snapshot struct {
	active        map[uint64]sessionEntry
	totalSessions uint64
	totalRefused  uint64
	bytesUp       int64
	bytesDown     int64
}

func (c *Console) snapshot() snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	active := make(map[uint64]sessionEntry, len(c.active))
	for id, e := range c.active {
		active[id] = e
	}
	return snapshot{
		active:        active,
		totalSessions: c.totalSessions,
		totalRefused:  c.totalRefused,
		bytesUp:       c.bytesUp,
		bytesDown:     c.bytesDown,
	}
}

func (c *Console) renderStatusLine() {
	c.mu.Lock()
	if c.commandMode {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	snap := c.snapshot()
	line := fmt.Sprintf("[active:%d total:%d refused:%d | up:%s down:%s]",
		len(snap.active), snap.totalSessions, snap.totalRefused,
		formatBytes(snap.bytesUp), formatBytes(snap.bytesDown))
	fmt.Printf("\r%-70s", line)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
