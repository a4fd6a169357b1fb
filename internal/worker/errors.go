package worker

import (
	"fmt"
	"strings"
)

// Kind classifies the stage a job attempt failed in.
type Kind string

// Failure kinds.
const (
	KindSetup                Kind = "SetupFailed"
	KindScrapeFailed         Kind = "ScrapeFailed"
	KindConversionFailed     Kind = "ConversionFailed"
	KindArtifactUploadFailed Kind = "ArtifactUploadFailed"
)

// Stage returns the short stage name recorded on a failed outcome.
func (k Kind) Stage() string {
	switch k {
	case KindScrapeFailed:
		return "scrape"
	case KindConversionFailed:
		return "convert"
	case KindArtifactUploadFailed:
		return "upload"
	default:
		return "setup"
	}
}

// CommandLog captures one external command invocation.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// StageError is a stage-aware error with optional command context.
type StageError struct {
	Kind       Kind
	Message    string
	CommandLog CommandLog
	Err        error
}

// Error formats the failure with the last line of stderr when there is one.
func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.CommandLog.Command != "" {
		msg += fmt.Sprintf(" (cmd=%s exit=%d)", e.CommandLog.Command, e.CommandLog.ExitCode)
	}
	if tail := lastLine(e.CommandLog.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// stderrTailBytes bounds the stderr kept on a failed outcome.
const stderrTailBytes = 2 << 10

// StderrTail returns at most stderrTailBytes of the command's stderr, cut at
// a line start when one falls inside the window.
func (e *StageError) StderrTail() string {
	if e == nil {
		return ""
	}
	s := strings.TrimSpace(e.CommandLog.Stderr)
	if len(s) <= stderrTailBytes {
		return s
	}
	s = s[len(s)-stderrTailBytes:]
	if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
		return s[i+1:]
	}
	return strings.ToValidUTF8(s, "")
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
