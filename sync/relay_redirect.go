// ABOUTME: Classifies relay responses as a direct JSON body or a redirect to follow
// ABOUTME: Recovers the redirect target from the Location header or from the HTML anchor
package sync

import (
	"net/http"
	"regexp"
	"strings"
)

const redirectMarker = "Moved Temporarily"

// Anchor patterns, tried in order.
var hrefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)HREF="([^"]+)"`),
	regexp.MustCompile(`href="([^"]+)"`),
	regexp.MustCompile(`(?i)href=([^\s>"]+)`),
}

// echoURLPattern matches the relay platform's result URL when no anchor is present.
var echoURLPattern = regexp.MustCompile(`https://script\.googleusercontent\.com/macros/echo\?[^">\s]+`)

// RelayResultKind tags a RelayResult.
type RelayResultKind int

const (
	RelayDirect RelayResultKind = iota
	RelayRedirect
)

// RelayResult is either a body to parse as-is or a location to GET.
// Location is empty for a redirect whose target could not be recovered.
type RelayResult struct {
	Kind     RelayResultKind
	Body     []byte
	Location string
}

// ClassifyRelayResponse inspects the first response of a relay call.
// A 3xx status or the redirect marker in the body both count as a redirect,
// since some hosts hide the status.
func ClassifyRelayResponse(status int, header http.Header, body []byte) RelayResult {
	isRedirect := (status >= 300 && status < 400) || strings.Contains(string(body), redirectMarker)
	if !isRedirect {
		return RelayResult{Kind: RelayDirect, Body: body}
	}

	if location := headerValue(header, "Location"); location != "" {
		return RelayResult{Kind: RelayRedirect, Location: location}
	}
	return RelayResult{Kind: RelayRedirect, Location: locationFromHTML(string(body))}
}

// headerValue looks a header up case-insensitively, including non-canonical keys.
func headerValue(header http.Header, name string) string {
	if v := header.Get(name); v != "" {
		return v
	}
	for key, values := range header {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

func locationFromHTML(html string) string {
	for _, pattern := range hrefPatterns {
		if m := pattern.FindStringSubmatch(html); m != nil {
			return decodeAmpersands(m[1])
		}
	}
	if m := echoURLPattern.FindString(html); m != "" {
		return decodeAmpersands(m)
	}
	return ""
}

func decodeAmpersands(s string) string {
	return strings.ReplaceAll(s, "&amp;", "&")
}
