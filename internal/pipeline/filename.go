package pipeline

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// TimestampLayout renders artifact timestamps with second resolution.
const TimestampLayout = "2006-01-02_15-04-05"

// MaxSiteNameLen caps the sanitized hostname so artifact names stay well
// under the 255 byte filename limit of common filesystems.
const MaxSiteNameLen = 200

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// ValidateURL parses raw and requires an absolute http(s) URL with a host.
func ValidateURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, newError(ErrInput, "a valid url is required", nil)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, newError(ErrInput, "a valid url is required", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return nil, newError(ErrInput, fmt.Sprintf("a valid url is required, got %q", raw), nil)
	}
	return u, nil
}

// SiteName sanitizes the hostname of u for use in filenames and truncates it
// to MaxSiteNameLen bytes.
func SiteName(u *url.URL) string {
	name := unsafeChars.ReplaceAllString(u.Hostname(), "_")
	if len(name) > MaxSiteNameLen {
		name = name[:MaxSiteNameLen]
	}
	return name
}

// ArtifactName derives the stored filename for a job.
// Single-page and fallback jobs produce site_single_ts.pdf, multi-page jobs site_ts.pdf.
func ArtifactName(u *url.URL, mode Mode, ts time.Time) string {
	parts := []string{SiteName(u)}
	if tag := mode.Tag(); tag != "" {
		parts = append(parts, tag)
	}
	parts = append(parts, ts.Format(TimestampLayout))
	return strings.Join(parts, "_") + ".pdf"
}
