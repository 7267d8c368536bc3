package dockercli

import (
	"log/slog"
)

// Ingress wraps the proxy container through which members are reached
// externally. Closing it removes the proxy container.
type Ingress struct {
	handle  *Handle
	address string
}

func NewIngress(containerID, address string, cfg Config, logger *slog.Logger) *Ingress {
	return &Ingress{
		handle:  NewHandle(containerID, cfg, logger),
		address: address,
	}
}

func (i *Ingress) Address() string { return i.address }

func (i *Ingress) Close() error { return i.handle.Close() }
