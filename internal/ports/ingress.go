package ports

// Ingress is the shared proxy resource through which members are reached
// externally. The cluster owns it and closes it first during teardown.
type Ingress interface {
	Address() string
	Close() error
}
