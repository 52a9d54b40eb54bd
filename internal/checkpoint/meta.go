package checkpoint

import (
	"fmt"
	"strings"
	"time"

	"bakker-go/internal/pkg/bkerrors"
)

// TimeLayout is the text form of checkpoint times: ISO-8601 without a zone,
// always with six fractional digits.
const TimeLayout = "2006-01-02T15:04:05.000000"

// Meta identifies a stored checkpoint.
type Meta struct {
	Checksum string
	Time     time.Time
	Name     string
}

// String returns the canonical form <checksum>_<time>[_<name>], which is
// both the storage key and the identifier shown to users.
func (m Meta) String() string {
	s := m.Checksum + "_" + FormatTime(m.Time)
	if m.Name != "" {
		s += "_" + m.Name
	}
	return s
}

// ParseMeta is the inverse of Meta.String. The name may itself contain '_'.
func ParseMeta(s string) (Meta, error) {
	parts := strings.SplitN(s, "_", 3)
	if len(parts) < 2 || parts[0] == "" {
		return Meta{}, fmt.Errorf("%w: malformed checkpoint identifier %q", bkerrors.ErrFormat, s)
	}
	t, err := ParseTime(parts[1])
	if err != nil {
		return Meta{}, err
	}
	m := Meta{Checksum: parts[0], Time: t}
	if len(parts) == 3 {
		if parts[2] == "" || !namePattern.MatchString(parts[2]) {
			return Meta{}, fmt.Errorf("%w: malformed checkpoint name in %q", bkerrors.ErrFormat, s)
		}
		m.Name = parts[2]
	}
	return m, nil
}

// FormatTime renders t with TimeLayout.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// ParseTime accepts a zone-less ISO-8601 time with zero to six fractional
// digits, i.e. 19 to 26 characters.
func ParseTime(s string) (time.Time, error) {
	if len(s) != 19 && (len(s) < 21 || len(s) > 26 || s[19] != '.') {
		return time.Time{}, fmt.Errorf("%w: malformed checkpoint time %q", bkerrors.ErrFormat, s)
	}
	// Fractional seconds after the seconds field are accepted even though
	// the layout does not name them.
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: malformed checkpoint time %q: %v", bkerrors.ErrFormat, s, err)
	}
	return t, nil
}
