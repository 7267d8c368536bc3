// Package logwatch decides that an event has happened purely from observing
// a live container log stream. Frames are not guaranteed to arrive in true
// chronological order after an attach or restart, so every match is compared
// against a baseline timestamp captured before the action under test.
package logwatch

import (
	"regexp"
	"strings"

	"github.com/faultline-io/faultline/internal/domain"
)

// TimestampWidth is the byte length of the fixed-width log timestamp prefix
// "YYYY-MM-DD HH:MM:SS.FFFF". Zero padding makes lexicographic order on the
// prefix identical to chronological order.
const TimestampWidth = 24

var (
	timestampPrefixPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{4}`)
	timestampedLinePattern = regexp.MustCompile(`(?m)^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{4}.*$`)
)

func startsWithTimestamp(line string) bool {
	return timestampPrefixPattern.MatchString(line)
}

// Baseline marks the most recent point already observed in one member's log
// stream. It is only meaningful for the stream it was captured from.
type Baseline struct {
	timestamp string
}

func (b Baseline) Timestamp() string { return b.timestamp }

// BaselineFromLine captures a baseline from a timestamp-prefixed log line.
func BaselineFromLine(line string) (Baseline, error) {
	trimmed := strings.TrimLeft(line, " \t")
	if !startsWithTimestamp(trimmed) {
		return Baseline{}, domain.NewInvalidRequestError(
			"baselines must be log lines that print with a leading timestamp; this was not satisfied for %q", line)
	}
	return Baseline{timestamp: trimmed[:TimestampWidth]}, nil
}

// LastTimestampedLine returns the last timestamp-prefixed line in the log.
// Used to capture a baseline before restarting a member: anything at or
// before this line predates the restart.
func LastTimestampedLine(log string) (string, error) {
	matches := timestampedLinePattern.FindAllString(log, -1)
	if len(matches) == 0 {
		return "", domain.NewInvalidRequestError(
			"log has no lines starting with a recognisable timestamp; did the process fail to start?")
	}
	return matches[len(matches)-1], nil
}

// FirstLineAfterStart returns the first timestamp-prefixed line at or after
// the most recent occurrence of the start marker, for waits scoped to the
// current session. The marker's own line counts when it carries a timestamp.
// When the marker is absent the whole log is searched.
func FirstLineAfterStart(log, startMarker string) (string, error) {
	scope := log
	if startMarker != "" {
		if i := strings.LastIndex(log, startMarker); i >= 0 {
			scope = log[strings.LastIndex(log[:i], "\n")+1:]
		}
	}
	match := timestampedLinePattern.FindString(scope)
	if match == "" {
		return "", domain.NewInvalidRequestError(
			"log has no timestamped lines after the most recent start marker; did the process fail to start?")
	}
	return match, nil
}
