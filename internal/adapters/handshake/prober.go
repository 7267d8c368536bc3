// Package handshake probes an endpoint with a raw protocol preamble
// exchange. A log line announcing the listener can precede actual socket
// readiness by a small margin, so lifecycle operations probe after any
// log-based wait.
package handshake

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
)

// defaultPreamble is the magic marker followed by four version proposals,
// newest first.
var defaultPreamble = []byte{
	0x60, 0x60, 0xb0, 0x17,
	0x00, 0x00, 0x00, 0x04,
	0x00, 0x00, 0x00, 0x03,
	0x00, 0x00, 0x00, 0x02,
	0x00, 0x00, 0x00, 0x01,
}

// Prober implements ports.ConnectivityProbe over a raw TCP handshake: dial,
// send the preamble, require a 4-byte version reply within the timeout.
type Prober struct {
	preamble []byte
	logger   *slog.Logger
}

// NewProber builds a prober. A nil preamble selects the default one.
func NewProber(preamble []byte, logger *slog.Logger) *Prober {
	if preamble == nil {
		preamble = defaultPreamble
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		preamble: preamble,
		logger:   logger.With("component", "handshake-prober"),
	}
}

func (p *Prober) Probe(ctx context.Context, address string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("handshake dial %s: %w", address, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}
	if _, err := conn.Write(p.preamble); err != nil {
		return fmt.Errorf("handshake write to %s: %w", address, err)
	}

	var reply [4]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		return fmt.Errorf("handshake read from %s: %w", address, err)
	}

	p.logger.Debug("handshake completed",
		"address", address,
		"agreed_version", binary.BigEndian.Uint32(reply[:]))
	return nil
}
