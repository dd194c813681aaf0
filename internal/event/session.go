package event

import "time"

const (
	EventSessionOpened  = "session.opened"
	EventSessionClosed  = "session.closed"
	EventSessionRefused = "session.refused"
)

// SessionOpened is published once the upstream leg of a session has been
// established and forwarding is about to start.
type SessionOpened struct {
	ID           uint64
	ClientAddr   string
	UpstreamAddr string
}

// SessionClosed is published after both legs of a session have been torn
// down. BytesUp counts client->upstream, BytesDown upstream->client.
type SessionClosed struct {
	ID         uint64
	ClientAddr string
	BytesUp    int64
	BytesDown  int64
	Duration   time.Duration
}

// SessionRefused is published when a client was accepted but no session
// was established, either because the upstream dial failed or because the
// session limit was reached.
type SessionRefused struct {
	ClientAddr string
	Reason     string
}
