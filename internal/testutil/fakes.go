// Package testutil provides in-memory implementations of the runtime
// capabilities for tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/faultline-io/faultline/internal/ports"
)

// FakeHandle is an in-memory ContainerHandle. Lifecycle actions flip flags
// and append configured output; FollowOutput replays accumulated output
// before streaming appends, like a real log attach.
type FakeHandle struct {
	mu       sync.Mutex
	id       string
	running  bool
	paused   bool
	isolated bool
	closed   bool
	output   string
	channels map[ports.LogChannel]string
	mapped   map[int]string
	subs     map[chan ports.LogFrame]struct{}

	// Output appended when the corresponding action is applied.
	StopOutput  string
	StartOutput string
	KillOutput  string

	// Optional injected failures.
	StartErr error
	StopErr  error
	KillErr  error

	// RemapOnStart replaces the port mappings when the container starts,
	// mimicking host port remapping across restarts.
	RemapOnStart map[int]string
}

func NewFakeHandle(id string) *FakeHandle {
	return &FakeHandle{
		id:       id,
		running:  true,
		channels: make(map[ports.LogChannel]string),
		mapped:   make(map[int]string),
		subs:     make(map[chan ports.LogFrame]struct{}),
	}
}

func (h *FakeHandle) ID() string { return h.id }

// AppendOutput adds text to the combined output and delivers it to live
// subscribers.
func (h *FakeHandle) AppendOutput(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appendOutputLocked(text)
}

func (h *FakeHandle) appendOutputLocked(text string) {
	h.output += text
	frame := ports.LogFrame{Source: ports.FrameStdout, Text: text}
	for ch := range h.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

// AppendChannel adds text to a file-backed log channel.
func (h *FakeHandle) AppendChannel(channel ports.LogChannel, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels[channel] += text
}

// SetMapped sets the host address a container port maps to.
func (h *FakeHandle) SetMapped(port int, address string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mapped[port] = address
}

func (h *FakeHandle) Paused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

func (h *FakeHandle) Isolated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.isolated
}

func (h *FakeHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *FakeHandle) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.StartErr != nil {
		return h.StartErr
	}
	h.running = true
	for port, address := range h.RemapOnStart {
		h.mapped[port] = address
	}
	if h.StartOutput != "" {
		h.appendOutputLocked(h.StartOutput)
	}
	return nil
}

func (h *FakeHandle) Stop(ctx context.Context, timeout time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.StopErr != nil {
		return h.StopErr
	}
	h.running = false
	if h.StopOutput != "" {
		h.appendOutputLocked(h.StopOutput)
	}
	return nil
}

func (h *FakeHandle) Kill(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.KillErr != nil {
		return h.KillErr
	}
	h.running = false
	if h.KillOutput != "" {
		h.appendOutputLocked(h.KillOutput)
	}
	return nil
}

func (h *FakeHandle) Pause(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = true
	return nil
}

func (h *FakeHandle) Unpause(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = false
	return nil
}

func (h *FakeHandle) DisconnectNetwork(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.isolated = true
	return nil
}

func (h *FakeHandle) ReconnectNetwork(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.isolated = false
	return nil
}

func (h *FakeHandle) IsRunning(ctx context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running, nil
}

func (h *FakeHandle) Exec(ctx context.Context, cmd []string) (ports.ExecResult, error) {
	return ports.ExecResult{}, nil
}

func (h *FakeHandle) ReadLog(ctx context.Context, channel ports.LogChannel, offset int64) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	log := h.channels[channel]
	if offset < 0 {
		offset = 0
	}
	if offset >= int64(len(log)) {
		return "", nil
	}
	return log[offset:], nil
}

func (h *FakeHandle) ContainerLogs(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.output, nil
}

func (h *FakeHandle) FollowOutput(ctx context.Context) (<-chan ports.LogFrame, error) {
	h.mu.Lock()
	ch := make(chan ports.LogFrame, 256)
	if h.output != "" {
		ch <- ports.LogFrame{Source: ports.FrameStdout, Text: h.output}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}()
	return ch, nil
}

func (h *FakeHandle) MappedAddress(ctx context.Context, port int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	address, ok := h.mapped[port]
	if !ok {
		return "", fmt.Errorf("no host mapping for port %d", port)
	}
	return address, nil
}

func (h *FakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// FakeProbe records probed addresses and fails the ones listed in Failing.
type FakeProbe struct {
	mu      sync.Mutex
	Failing map[string]error
	calls   []string
}

func (p *FakeProbe) Probe(ctx context.Context, address string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, address)
	if err, ok := p.Failing[address]; ok {
		return err
	}
	return nil
}

func (p *FakeProbe) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// FakeIngress records teardown.
type FakeIngress struct {
	mu      sync.Mutex
	address string
	closed  bool
}

func NewFakeIngress(address string) *FakeIngress {
	return &FakeIngress{address: address}
}

func (i *FakeIngress) Address() string {
	return i.address
}

func (i *FakeIngress) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	return nil
}

func (i *FakeIngress) Closed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}
