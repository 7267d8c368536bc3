package logwatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/faultline-io/faultline/internal/domain"
	"github.com/faultline-io/faultline/internal/ports"
)

// Source is the slice of ContainerHandle the waiter needs.
type Source interface {
	FollowOutput(ctx context.Context) (<-chan ports.LogFrame, error)
}

// Waiter resolves once a line containing the query appears in the live
// stream with a timestamp strictly greater than the baseline. It is
// one-shot: Wait may be called once; a new wait needs a fresh baseline and
// a fresh Waiter.
type Waiter struct {
	query    string
	baseline Baseline
	logger   *slog.Logger
}

// NewWaiter builds a waiter for query, relative to the given baseline line.
// The query must be a single line; the baseline line must carry a timestamp
// prefix.
func NewWaiter(query, baselineLine string, logger *slog.Logger) (*Waiter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.ContainsRune(query, '\n') {
		return nil, domain.NewInvalidRequestError("log queries cannot span multiple lines: %q", query)
	}
	baseline, err := BaselineFromLine(baselineLine)
	if err != nil {
		return nil, err
	}
	return &Waiter{
		query:    query,
		baseline: baseline,
		logger:   logger.With("component", "logwatch"),
	}, nil
}

func (w *Waiter) Baseline() Baseline { return w.baseline }

// Wait subscribes to the source's output stream and blocks until a
// qualifying match, the timeout, or context cancellation. The stream replays
// history, so matches at or before the baseline are expected and skipped. A
// matching line without a timestamp prefix aborts with a
// ContractViolationError; deadline expiry surfaces as a TimeoutError.
func (w *Waiter) Wait(ctx context.Context, source Source, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	frames, err := source.FollowOutput(waitCtx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return domain.NewTimeoutError(
				fmt.Sprintf("waiting for log output matching %q", w.query), timeout, waitCtx.Err())
		case frame, ok := <-frames:
			if !ok {
				// Stream ended, e.g. the process stopped mid-wait. Keep
				// blocking on the deadline; the message may never come.
				frames = nil
				continue
			}
			matched, err := w.examine(frame.Text)
			if err != nil {
				return err
			}
			if matched {
				return nil
			}
		}
	}
}

func (w *Waiter) examine(text string) (bool, error) {
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(line, w.query) {
			continue
		}
		trimmed := strings.TrimLeft(line, " \t")
		if !startsWithTimestamp(trimmed) {
			return false, &domain.ContractViolationError{Query: w.query, Line: line}
		}
		// The log transport does not deliver frames in chronological order,
		// so a plain "first match" is unsound. Only a timestamp strictly
		// greater than the baseline is a genuine post-baseline match.
		ts := trimmed[:TimestampWidth]
		if ts > w.baseline.timestamp {
			return true, nil
		}
		w.logger.Debug("ignoring stale log match",
			"query", w.query,
			"line_timestamp", ts,
			"baseline_timestamp", w.baseline.timestamp)
	}
	return false, nil
}
