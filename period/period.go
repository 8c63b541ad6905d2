// ABOUTME: ISO-8601 period parsing for tracker duration and reminder fields
// ABOUTME: Converts P[n]W[n]DT[n]H[n]M[n]S strings to minutes and formats minutes for humans
package period

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	MinutesPerHour = 60
	MinutesPerDay  = 24 * MinutesPerHour
	MinutesPerWeek = 7 * MinutesPerDay
)

var (
	datePart = regexp.MustCompile(`^P(?:(\d+)W)?(?:(\d+)D)?`)
	timePart = regexp.MustCompile(`T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?`)
)

// Parse converts an ISO-8601 period into whole minutes.
// ok is false for empty input, input not starting with "P", and any string that
// totals zero minutes except the canonical zero forms "PT0S" and "P0D".
func Parse(text string) (minutes int, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" || !strings.HasPrefix(text, "P") {
		return 0, false
	}

	var weeks, days, hours, mins, secs int
	if m := datePart.FindStringSubmatch(text); m != nil {
		weeks = atoi(m[1])
		days = atoi(m[2])
	}
	if idx := strings.Index(text, "T"); idx >= 0 {
		if m := timePart.FindStringSubmatch(text[idx:]); m != nil {
			hours = atoi(m[1])
			mins = atoi(m[2])
			secs = atoi(m[3])
		}
	}

	total := weeks*MinutesPerWeek + days*MinutesPerDay + hours*MinutesPerHour + mins + (secs+30)/60
	if total == 0 && text != "PT0S" && text != "P0D" {
		return 0, false
	}
	return total, true
}

// ISO renders weeks, days, hours and minutes as a canonical period string.
func ISO(weeks, days, hours, minutes int) string {
	var b strings.Builder
	b.WriteString("P")
	if weeks > 0 {
		fmt.Fprintf(&b, "%dW", weeks)
	}
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if hours > 0 || minutes > 0 {
		b.WriteString("T")
		if hours > 0 {
			fmt.Fprintf(&b, "%dH", hours)
		}
		if minutes > 0 {
			fmt.Fprintf(&b, "%dM", minutes)
		}
	}
	if b.Len() == 1 {
		return "P0D"
	}
	return b.String()
}

// Format renders minutes the way a person would say it ("2h 30m", "3 days").
func Format(minutes int) string {
	switch {
	case minutes < MinutesPerHour:
		return fmt.Sprintf("%d minute%s", minutes, plural(minutes))
	case minutes < MinutesPerDay:
		h, m := minutes/MinutesPerHour, minutes%MinutesPerHour
		if m > 0 {
			return fmt.Sprintf("%dh %dm", h, m)
		}
		return fmt.Sprintf("%d hour%s", h, plural(h))
	case minutes < MinutesPerWeek:
		d, h := minutes/MinutesPerDay, (minutes%MinutesPerDay)/MinutesPerHour
		if h > 0 {
			return fmt.Sprintf("%dd %dh", d, h)
		}
		return fmt.Sprintf("%d day%s", d, plural(d))
	default:
		w, d := minutes/MinutesPerWeek, (minutes%MinutesPerWeek)/MinutesPerDay
		if d > 0 {
			return fmt.Sprintf("%dw %dd", w, d)
		}
		return fmt.Sprintf("%d week%s", w, plural(w))
	}
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
