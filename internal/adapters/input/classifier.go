package input

import (
	"net/netip"
	"regexp"
	"strings"
	"time"

	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/pkg/ahocorasick"
)

const ipToken = `[0-9A-Fa-f:.]+`

// Every pattern contains its keyword literally, so a line without the
// keyword cannot match the pattern.
const (
	kwFailed = iota
	kwAccepted
	kwInvalid
	kwBreakIn
	kwDisconnected
	kwClosed
)

var sshKeywords = ahocorasick.New([]string{
	kwFailed:       "Failed ",
	kwAccepted:     "Accepted ",
	kwInvalid:      "Invalid user ",
	kwBreakIn:      "POSSIBLE BREAK-IN ATTEMPT",
	kwDisconnected: "Disconnected from ",
	kwClosed:       "Connection closed by ",
})

type sshPattern struct {
	kind    domain.EventKind
	keyword int
	re      *regexp.Regexp
}

// sshPatterns is evaluated in order; the first match decides the kind.
// Every pattern captures "ip" and optionally "user" and "port".
var sshPatterns = []sshPattern{
	{domain.KindFailedLogin, kwFailed, regexp.MustCompile(
		`Failed \S+ for (?:invalid user )?(?P<user>\S+) from (?P<ip>` + ipToken + `)(?: port (?P<port>\d+))?`)},
	{domain.KindAcceptedLogin, kwAccepted, regexp.MustCompile(
		`Accepted \S+ for (?P<user>\S+) from (?P<ip>` + ipToken + `)(?: port (?P<port>\d+))?`)},
	{domain.KindInvalidUser, kwInvalid, regexp.MustCompile(
		`Invalid user (?P<user>\S*) ?from (?P<ip>` + ipToken + `)(?: port (?P<port>\d+))?`)},
	{domain.KindBreakInAttempt, kwBreakIn, regexp.MustCompile(
		`POSSIBLE BREAK-IN ATTEMPT.*?from (?P<ip>` + ipToken + `)(?: port (?P<port>\d+))?`)},
	{domain.KindBreakInAttempt, kwBreakIn, regexp.MustCompile(
		`\[(?P<ip>` + ipToken + `)\].*POSSIBLE BREAK-IN ATTEMPT`)},
	{domain.KindBreakInAttempt, kwBreakIn, regexp.MustCompile(
		`Address (?P<ip>` + ipToken + `) maps to .*POSSIBLE BREAK-IN ATTEMPT`)},
	{domain.KindDisconnected, kwDisconnected, regexp.MustCompile(
		`Disconnected from (?:invalid user |authenticating user |user )?(?:(?P<user>\S+) )?(?P<ip>` + ipToken + `) port (?P<port>\d+)`)},
	{domain.KindConnectionClosed, kwClosed, regexp.MustCompile(
		`Connection closed by (?:invalid user |authenticating user |user )?(?:(?P<user>\S+) )?(?P<ip>` + ipToken + `) port (?P<port>\d+)`)},
}

var (
	syslogStampRe = regexp.MustCompile(`^([A-Z][a-z]{2})\s+(\d{1,2})\s+(\d{2}:\d{2}:\d{2})`)

	isoLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999-0700",
		"2006-01-02T15:04:05-0700",
		"2006-01-02T15:04:05",
	}
)

// Classifier turns sshd log lines into events. It holds no mutable state and
// is safe for concurrent use.
type Classifier struct {
	now func() time.Time
	loc *time.Location
}

func NewClassifier() *Classifier {
	return NewClassifierWithClock(time.Now, time.Local)
}

// NewClassifierWithClock uses clock for the current year and as the fallback
// timestamp, and loc for syslog stamps that carry no zone.
func NewClassifierWithClock(clock func() time.Time, loc *time.Location) *Classifier {
	if clock == nil {
		clock = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &Classifier{now: clock, loc: loc}
}

// Classify parses line using the timestamp embedded in the line. Lines that
// match no pattern or carry no valid IP return false.
func (c *Classifier) Classify(line string) (domain.Event, bool) {
	event, ok := c.match(line)
	if !ok {
		return domain.Event{}, false
	}
	event.Timestamp = c.parseTimestamp(event.Raw)
	return event, true
}

// ClassifyAt parses line and stamps it with captured instead of the embedded
// timestamp. Used for live streams.
func (c *Classifier) ClassifyAt(line string, captured time.Time) (domain.Event, bool) {
	event, ok := c.match(line)
	if !ok {
		return domain.Event{}, false
	}
	event.Timestamp = captured
	return event, true
}

// ClassifyAll classifies every line and keeps the matches in input order.
func (c *Classifier) ClassifyAll(lines []string) []domain.Event {
	events := make([]domain.Event, 0, len(lines)/4)
	for _, line := range lines {
		if event, ok := c.Classify(line); ok {
			events = append(events, event)
		}
	}
	return events
}

func (c *Classifier) match(line string) (domain.Event, bool) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) > domain.MaxLineLength {
		line = line[:domain.MaxLineLength]
	}
	if line == "" {
		return domain.Event{}, false
	}

	present := sshKeywords.Mask(line)
	if present == 0 {
		return domain.Event{}, false
	}

	for _, p := range sshPatterns {
		if present&(1<<uint(p.keyword)) == 0 {
			continue
		}
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		var ipText, user, port string
		for i, name := range p.re.SubexpNames() {
			if m[i] == "" {
				continue
			}
			switch name {
			case "ip":
				ipText = m[i]
			case "user":
				user = m[i]
			case "port":
				port = m[i]
			}
		}

		addr, err := netip.ParseAddr(ipText)
		if err != nil {
			// A recognised line without a usable address is dropped.
			return domain.Event{}, false
		}

		return domain.Event{
			IP:   addr.Unmap(),
			Kind: p.kind,
			User: user,
			Port: port,
			Raw:  line,
		}, true
	}

	return domain.Event{}, false
}

// parseTimestamp reads the leading fields of line. Syslog stamps have no
// year and get the current one, so a December line read in January lands in
// the wrong year.
func (c *Classifier) parseTimestamp(line string) time.Time {
	now := c.now()

	if m := syslogStampRe.FindStringSubmatch(line); m != nil {
		stamp := m[1] + " " + m[2] + " " + m[3]
		if t, err := time.ParseInLocation("Jan 2 15:04:05", stamp, c.loc); err == nil {
			return time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, c.loc)
		}
	}

	field, _, _ := strings.Cut(line, " ")
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, field, c.loc); err == nil {
			return t
		}
	}

	return now
}
