package publish

import (
	"fmt"
	"strings"
	"time"
)

const (
	localLayout = "01-02-2006, 15:04:05"
	utcLayout   = "15:04:05"
)

// Message is one transcript ready for delivery.
type Message struct {
	Text          string
	UTC           time.Time
	OffsetMinutes int
}

func (m Message) String() string {
	return FormatMessage(m.UTC, m.OffsetMinutes, m.Text)
}

// FormatMessage renders "MM-DD-YYYY, HH:MM:SS, HH:MM:SS UTC - text" where the
// first timestamp is utc shifted by offsetMinutes. The host time zone is
// never consulted.
func FormatMessage(utc time.Time, offsetMinutes int, text string) string {
	utc = utc.UTC()
	zone := time.FixedZone(zoneName(offsetMinutes), offsetMinutes*60)
	return fmt.Sprintf("%s, %s UTC - %s",
		utc.In(zone).Format(localLayout),
		utc.Format(utcLayout),
		strings.TrimSpace(text),
	)
}

func zoneName(offsetMinutes int) string {
	sign := '+'
	if offsetMinutes < 0 {
		sign = '-'
		offsetMinutes = -offsetMinutes
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, offsetMinutes/60, offsetMinutes%60)
}
