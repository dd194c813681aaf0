package debug

import (
	"testing"
	"time"

	"github.com/Versifine/strait/internal/event"
)

// TestConsoleAccumulatesSessionStats 测试控制台通过事件总线正确累计会话统计
func TestConsoleAccumulatesSessionStats(t *testing.T) {
	bus := event.NewBus()
	console := NewConsole(bus)

	bus.Publish(event.EventSessionOpened, &event.SessionOpened{
		ID: 1, ClientAddr: "127.0.0.1:50001", UpstreamAddr: "127.0.0.1:9000",
	})
	bus.Publish(event.EventSessionOpened, &event.SessionOpened{
		ID: 2, ClientAddr: "127.0.0.1:50002", UpstreamAddr: "127.0.0.1:9000",
	})

	snap := console.snapshot()
	if len(snap.active) != 2 {
		t.Errorf("活跃会话数 = %d, 期望 2", len(snap.active))
	}
	if snap.totalSessions != 2 {
		t.Errorf("累计会话数 = %d, 期望 2", snap.totalSessions)
	}

	bus.Publish(event.EventSessionClosed, &event.SessionClosed{
		ID: 1, BytesUp: 1000, BytesDown: 2000, Duration: time.Second,
	})

	snap = console.snapshot()
	if len(snap.active) != 1 {
		t.Errorf("关闭一个会话后活跃数 = %d, 期望 1", len(snap.active))
	}
	if snap.bytesUp != 1000 || snap.bytesDown != 2000 {
		t.Errorf("字节计数 up=%d down=%d, 期望 1000/2000", snap.bytesUp, snap.bytesDown)
	}
	if snap.totalSessions != 2 {
		t.Errorf("累计会话数 = %d, 期望保持 2", snap.totalSessions)
	}

	bus.Publish(event.EventSessionRefused, &event.SessionRefused{
		ClientAddr: "127.0.0.1:50003", Reason: "connection refused",
	})

	snap = console.snapshot()
	if snap.totalRefused != 1 {
		t.Errorf("拒绝计数 = %d, 期望 1", snap.totalRefused)
	}
}

// TestConsoleResetCounters 测试重置计数器保留活跃会话
func TestConsoleResetCounters(t *testing.T) {
	bus := event.NewBus()
	console := NewConsole(bus)

	bus.Publish(event.EventSessionOpened, &event.SessionOpened{ID: 1})
	bus.Publish(event.EventSessionOpened, &event.SessionOpened{ID: 2})
	bus.Publish(event.EventSessionClosed, &event.SessionClosed{ID: 2, BytesUp: 10, BytesDown: 20})
	bus.Publish(event.EventSessionRefused, &event.SessionRefused{})

	console.resetCounters()

	snap := console.snapshot()
	if len(snap.active) != 1 {
		t.Errorf("重置后活跃会话数 = %d, 期望 1", len(snap.active))
	}
	if snap.totalSessions != 1 {
		t.Errorf("重置后累计会话数 = %d, 期望 1", snap.totalSessions)
	}
	if snap.totalRefused != 0 || snap.bytesUp != 0 || snap.bytesDown != 0 {
		t.Errorf("重置后计数应归零, 实际 refused=%d up=%d down=%d",
			snap.totalRefused, snap.bytesUp, snap.bytesDown)
	}
}

// TestFormatBytes 测试字节数的人类可读格式化
func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{1024, "1.0KiB"},
		{1536, "1.5KiB"},
		{20000, "19.5KiB"},
		{5 * 1024 * 1024, "5.0MiB"},
		{3 * 1024 * 1024 * 1024, "3.0GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, 期望 %q", tt.in, got, tt.want)
		}
	}
}
