package siem

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// streamTransport keeps one connection to a syslog receiver and redials
// after a write error. TCP frames use octet counting (RFC 6587).
type streamTransport struct {
	network string
	address string

	mu   sync.Mutex
	conn net.Conn
}

func newStreamTransport(network, address string) (*streamTransport, error) {
	switch network {
	case "":
		network = "udp"
	case "udp", "tcp":
	default:
		return nil, fmt.Errorf("unsupported syslog network %q", network)
	}
	if address == "" {
		return nil, fmt.Errorf("syslog address is required")
	}
	return &streamTransport{network: network, address: address}, nil
}

func (t *streamTransport) frame(msg []byte) []byte {
	if t.network != "tcp" {
		return msg
	}
	out := make([]byte, 0, len(msg)+8)
	out = strconv.AppendInt(out, int64(len(msg)), 10)
	out = append(out, ' ')
	return append(out, msg...)
}

// write sends every message, each as its own datagram or frame.
func (t *streamTransport) write(ctx context.Context, msgs ...[]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		var d net.Dialer
		conn, err := d.DialContext(ctx, t.network, t.address)
		if err != nil {
			return fmt.Errorf("dial %s %s: %w", t.network, t.address, err)
		}
		t.conn = conn
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	_ = t.conn.SetWriteDeadline(deadline)

	for _, m := range msgs {
		if _, err := t.conn.Write(t.frame(m)); err != nil {
			_ = t.conn.Close()
			t.conn = nil
			return fmt.Errorf("write %s %s: %w", t.network, t.address, err)
		}
	}
	return nil
}

func (t *streamTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
