// ABOUTME: Classification of external fetcher failures into stable codes
package media

import (
	"errors"
	"fmt"
	"strings"
)

// Upstream failure codes, matched against the external tool's stderr.
const (
	CodeVideoPrivate     = "VIDEO_PRIVATE"
	CodeVideoRestricted  = "VIDEO_RESTRICTED"
	CodeVideoBlocked     = "VIDEO_BLOCKED"
	CodeVideoUnavailable = "VIDEO_UNAVAILABLE"
	CodeNoFormat         = "NO_FORMAT"
	CodeNotFound         = "NOT_FOUND"
	CodeYTDLPError       = "YTDLP_ERROR"
)

// UpstreamError carries a classified code plus a trimmed operator message.
type UpstreamError struct {
	Code    string
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsUpstream extracts an UpstreamError from err, if present.
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// ParseError classifies raw stderr output. Matching is substring-based;
// the tool's phrasing varies between versions so patterns stay loose.
func ParseError(stderr string) *UpstreamError {
	lower := strings.ToLower(stderr)

	code := CodeYTDLPError
	switch {
	case strings.Contains(lower, "private video"):
		code = CodeVideoPrivate
	case strings.Contains(lower, "age-restricted") ||
		strings.Contains(lower, "sign in to confirm your age"):
		code = CodeVideoRestricted
	case strings.Contains(lower, "not available in your country") ||
		strings.Contains(lower, "blocked"):
		code = CodeVideoBlocked
	case strings.Contains(lower, "video unavailable") ||
		strings.Contains(lower, "this video has been removed"):
		code = CodeVideoUnavailable
	case strings.Contains(lower, "requested format is not available") ||
		strings.Contains(lower, "no video formats"):
		code = CodeNoFormat
	case strings.Contains(lower, "no results") ||
		strings.Contains(lower, "does not exist") ||
		strings.Contains(lower, "404"):
		code = CodeNotFound
	}

	return &UpstreamError{Code: code, Message: truncate(strings.TrimSpace(stderr), 200)}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
