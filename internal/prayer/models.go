package prayer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrIncompleteSet is returned when a time set is missing one of the six
	// canonical entries.
	ErrIncompleteSet = errors.New("incomplete prayer time set")
	// ErrInvalidTime is returned for time-of-day strings that are not HH:MM.
	ErrInvalidTime = errors.New("invalid time of day")
)

const minutesPerDay = 24 * 60

// Name identifies one entry of the daily set. Values are in canonical day order.
type Name int

// Entries of a TimeSet in day order.
const (
	Fajr Name = iota
	Sunrise
	Dhuhr
	Asr
	Maghrib
	Isha

	numNames = int(Isha) + 1
)

// Names lists every entry of the set in canonical day order.
var Names = [numNames]Name{Fajr, Sunrise, Dhuhr, Asr, Maghrib, Isha}

// Obligatory lists the five daily prayers; sunrise is not one of them.
var Obligatory = [...]Name{Fajr, Dhuhr, Asr, Maghrib, Isha}

var nameKeys = [numNames]string{"fajr", "sunrise", "dhuhr", "asr", "maghrib", "isha"}

var displayNames = [numNames]string{"Fajr", "Sunrise", "Dhuhr", "Asr", "Maghrib", "Isha"}

func (n Name) valid() bool { return n >= 0 && int(n) < numNames }

// String returns the lowercase key used in JSON and logs.
func (n Name) String() string {
	if !n.valid() {
		return "Name(" + strconv.Itoa(int(n)) + ")"
	}
	return nameKeys[n]
}

// Title returns the capitalized display name.
func (n Name) Title() string {
	if !n.valid() {
		return n.String()
	}
	return displayNames[n]
}

// ParseName resolves a case-insensitive key such as "Dhuhr".
func ParseName(s string) (Name, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, k := range nameKeys {
		if k == s {
			return Name(i), true
		}
	}
	return 0, false
}

func (n Name) MarshalText() ([]byte, error) {
	if !n.valid() {
		return nil, fmt.Errorf("invalid prayer name %d", int(n))
	}
	return []byte(nameKeys[n]), nil
}

func (n *Name) UnmarshalText(b []byte) error {
	v, ok := ParseName(string(b))
	if !ok {
		return fmt.Errorf("unknown prayer name %q", string(b))
	}
	*n = v
	return nil
}

// TimeOfDay is a wall-clock hour and minute.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay accepts "HH:MM", optionally followed by a space and a
// timezone suffix such as "04:45 (EET)".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	t := TimeOfDay{Hour: h, Minute: m}
	if !t.Valid() {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return t, nil
}

// MustTime is ParseTimeOfDay for literals.
func MustTime(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Valid reports whether t is a real wall-clock minute.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

// Minutes returns the minute-of-day.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// On anchors t to the calendar day of ref, in ref's location.
func (t TimeOfDay) On(ref time.Time) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, ref.Location())
}

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func minuteOfDay(now time.Time) int { return now.Hour()*60 + now.Minute() }

// TimeSet holds exactly the six canonical entries. The zero value is not
// valid; build one with NewTimeSet or DefaultTimeSet. A TimeSet is a value and
// is never mutated after construction.
type TimeSet struct {
	times [numNames]TimeOfDay
	ok    bool
}

// NewTimeSet builds a TimeSet from a map that must contain every canonical
// name with a valid time.
func NewTimeSet(m map[Name]TimeOfDay) (TimeSet, error) {
	var s TimeSet
	for _, n := range Names {
		t, ok := m[n]
		if !ok {
			return TimeSet{}, fmt.Errorf("%w: missing %s", ErrIncompleteSet, n)
		}
		if !t.Valid() {
			return TimeSet{}, fmt.Errorf("%w: %s=%v", ErrInvalidTime, n, t)
		}
		s.times[n] = t
	}
	if len(m) != numNames {
		return TimeSet{}, fmt.Errorf("%w: unexpected entries", ErrIncompleteSet)
	}
	s.ok = true
	return s, nil
}

// ParseTimeSet builds a TimeSet from lowercase keys and "HH:MM" values.
func ParseTimeSet(raw map[string]string) (TimeSet, error) {
	m := make(map[Name]TimeOfDay, len(raw))
	for k, v := range raw {
		n, ok := ParseName(k)
		if !ok {
			return TimeSet{}, fmt.Errorf("%w: unknown key %q", ErrIncompleteSet, k)
		}
		t, err := ParseTimeOfDay(v)
		if err != nil {
			return TimeSet{}, fmt.Errorf("%s: %w", n, err)
		}
		m[n] = t
	}
	return NewTimeSet(m)
}

var defaultTimeSet = TimeSet{
	times: [numNames]TimeOfDay{
		Fajr:    {4, 45},
		Sunrise: {6, 15},
		Dhuhr:   {12, 30},
		Asr:     {15, 45},
		Maghrib: {17, 30},
		Isha:    {19, 0},
	},
	ok: true,
}

// DefaultTimeSet is the fallback used whenever location or the prayer
// service is unavailable: fajr 04:45, sunrise 06:15, dhuhr 12:30, asr 15:45,
// maghrib 17:30, isha 19:00.
func DefaultTimeSet() TimeSet { return defaultTimeSet }

// Valid reports whether the set was built through a constructor.
func (s TimeSet) Valid() bool { return s.ok }

// Get returns the time for n.
func (s TimeSet) Get(n Name) TimeOfDay {
	if !n.valid() {
		return TimeOfDay{}
	}
	return s.times[n]
}

// Map returns a copy of the set keyed by lowercase name.
func (s TimeSet) Map() map[string]string {
	out := make(map[string]string, numNames)
	for _, n := range Names {
		out[n.String()] = s.times[n].String()
	}
	return out
}

// MarshalJSON writes the entries in canonical day order.
func (s TimeSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range Names {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%q:%q", n.String(), s.times[n].String())
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *TimeSet) UnmarshalJSON(b []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, err := ParseTimeSet(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// NextPrayerInfo is the projection of a TimeSet onto a wall-clock instant.
type NextPrayerInfo struct {
	Name             Name      `json:"name"`
	Time             TimeOfDay `json:"time"`
	MinutesRemaining int       `json:"minutesRemaining"`
	Tomorrow         bool      `json:"tomorrow"`
}

// Remaining returns MinutesRemaining as a duration.
func (n NextPrayerInfo) Remaining() time.Duration {
	return time.Duration(n.MinutesRemaining) * time.Minute
}

// Countdown renders the remaining time as "3h 5m".
func (n NextPrayerInfo) Countdown() string {
	return fmt.Sprintf("%dh %dm", n.MinutesRemaining/60, n.MinutesRemaining%60)
}

// NextPrayer returns the first obligatory prayer whose minute-of-day is
// strictly greater than now's. A prayer at exactly now counts as passed.
// After isha it wraps to the following day's fajr.
func (s TimeSet) NextPrayer(now time.Time) NextPrayerInfo {
	cur := minuteOfDay(now)
	for _, n := range Obligatory {
		t := s.times[n]
		if t.Minutes() > cur {
			return NextPrayerInfo{Name: n, Time: t, MinutesRemaining: t.Minutes() - cur}
		}
	}

	fajr := s.times[Fajr]
	remaining := fajr.Minutes() + minutesPerDay - cur
	if remaining <= 0 {
		remaining += minutesPerDay
	}
	return NextPrayerInfo{Name: Fajr, Time: fajr, MinutesRemaining: remaining, Tomorrow: true}
}

// NextOccurrence returns the next instant strictly after now at which t
// falls. An occurrence exactly at now rolls forward one day.
func NextOccurrence(t TimeOfDay, now time.Time) time.Time {
	at := t.On(now)
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}
