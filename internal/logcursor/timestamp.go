package logcursor

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	priPrefix     = regexp.MustCompile(`^<\d{1,3}>(?:\d{1,2} )?`)
	syslogPattern = regexp.MustCompile(`^([A-Z][a-z]{2}) +(\d{1,2}) (\d{2}:\d{2}:\d{2})`)
	isoPattern    = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})[T ](\d{2}:\d{2}:\d{2}(?:\.\d+)?)(Z|[+-]\d{2}:?\d{2})?`)
)

const (
	syslogLayout   = "2006 Jan _2 15:04:05"
	isoLocalLayout = "2006-01-02T15:04:05.999999999"
)

// parseTimestamp extracts a leading timestamp from line. Syslog stamps carry no
// year: the reference year is assumed, and a result more than a day past
// reference is moved to the previous year.
func parseTimestamp(line string, loc *time.Location, reference time.Time) (time.Time, bool) {
	line = priPrefix.ReplaceAllString(line, "")

	if m := isoPattern.FindStringSubmatch(line); m != nil {
		stamp := m[1] + "T" + m[2]
		zone := m[3]
		if zone == "" {
			ts, err := time.ParseInLocation(isoLocalLayout, stamp, loc)
			return ts, err == nil
		}
		if zone != "Z" && !strings.Contains(zone, ":") {
			zone = zone[:3] + ":" + zone[3:]
		}
		ts, err := time.Parse(time.RFC3339Nano, stamp+zone)
		if err != nil {
			return time.Time{}, false
		}
		return ts.In(loc), true
	}

	if m := syslogPattern.FindStringSubmatch(line); m != nil {
		year := reference.Year()
		ts, err := time.ParseInLocation(syslogLayout, syslogValue(year, m), loc)
		if err != nil {
			return time.Time{}, false
		}
		if ts.After(reference.Add(24 * time.Hour)) {
			ts, err = time.ParseInLocation(syslogLayout, syslogValue(year-1, m), loc)
			if err != nil {
				return time.Time{}, false
			}
		}
		return ts, true
	}

	return time.Time{}, false
}

func syslogValue(year int, m []string) string {
	day := m[2]
	if len(day) == 1 {
		day = " " + day
	}
	return strconv.Itoa(year) + " " + m[1] + " " + day + " " + m[3]
}
