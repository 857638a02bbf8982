package gps

import (
	"errors"
	"fmt"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

var (
	ErrMalformed   = errors.New("nmea: malformed sentence")
	ErrUnsupported = errors.New("nmea: unsupported sentence")
	ErrNoFix       = errors.New("nmea: receiver has no fix")
)

const knotsToMetresPerSecond = 0.514444

// Sentence is a decoded RMC or GGA sentence.
type Sentence struct {
	Type     string
	Position Position
	// Date is set only for RMC, which carries the UTC date.
	Date time.Time
}

// ParseSentence decodes one NMEA 0183 line. GGA carries no date, so its
// timestamp is placed on day.
func ParseSentence(line string, day time.Time) (Sentence, error) {
	s, err := nmea.Parse(strings.TrimSpace(line))
	if err != nil {
		return Sentence{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch m := s.(type) {
	case nmea.RMC:
		return fromRMC(m)
	case nmea.GGA:
		return fromGGA(m, day)
	default:
		return Sentence{}, fmt.Errorf("%w: %s", ErrUnsupported, s.DataType())
	}
}

func fromRMC(m nmea.RMC) (Sentence, error) {
	if m.Validity != nmea.ValidRMC {
		return Sentence{}, ErrNoFix
	}
	if !m.Date.Valid || !m.Time.Valid {
		return Sentence{}, fmt.Errorf("%w: RMC without date or time", ErrMalformed)
	}
	date := utcDate(m.Date)
	pos := Position{
		Lat:       m.Latitude,
		Lng:       m.Longitude,
		Timestamp: atTimeOfDay(date, m.Time).UnixMilli(),
	}
	// speed and course are optional; the parser reports an empty field as zero
	if field(m.BaseSentence, 6) != "" {
		speed := m.Speed * knotsToMetresPerSecond
		pos.Speed = &speed
	}
	if field(m.BaseSentence, 7) != "" {
		course := m.Course
		pos.Heading = &course
	}
	return Sentence{Type: nmea.TypeRMC, Position: pos, Date: date}, nil
}

func fromGGA(m nmea.GGA, day time.Time) (Sentence, error) {
	if m.FixQuality == "" || m.FixQuality == nmea.Invalid {
		return Sentence{}, ErrNoFix
	}
	if !m.Time.Valid {
		return Sentence{}, fmt.Errorf("%w: GGA without time", ErrMalformed)
	}
	y, mo, d := day.UTC().Date()
	pos := Position{
		Lat:       m.Latitude,
		Lng:       m.Longitude,
		Timestamp: atTimeOfDay(time.Date(y, mo, d, 0, 0, 0, 0, time.UTC), m.Time).UnixMilli(),
	}
	return Sentence{Type: nmea.TypeGGA, Position: pos}, nil
}

// utcDate follows the time package's two-digit year pivot: 69-99 is 19xx.
func utcDate(d nmea.Date) time.Time {
	year := 2000 + d.YY
	if d.YY >= 69 {
		year = 1900 + d.YY
	}
	return time.Date(year, time.Month(d.MM), d.DD, 0, 0, 0, 0, time.UTC)
}

func atTimeOfDay(day time.Time, t nmea.Time) time.Time {
	return day.Add(time.Duration(t.Hour)*time.Hour +
		time.Duration(t.Minute)*time.Minute +
		time.Duration(t.Second)*time.Second +
		time.Duration(t.Millisecond)*time.Millisecond)
}

func field(b nmea.BaseSentence, i int) string {
	if i >= len(b.Fields) {
		return ""
	}
	return b.Fields[i]
}
