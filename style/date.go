package style

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	serialTooLarge1900 = 2958466
	serialTooLarge1904 = 2958466 - 1462
)

var (
	epochUnix       = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	epoch1904       = time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)
	epoch1900       = time.Date(1899, 12, 31, 0, 0, 0, 0, time.UTC)
	epoch1900Minus1 = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
)

// DateError reports a serial number that has no calendar date.
type DateError struct {
	Serial float64
	Reason string
}

func (e *DateError) Error() string {
	return fmt.Sprintf("serial %v: %s", e.Serial, e.Reason)
}

// SerialToTime converts a serial day number into a UTC time.
//
// In the 1900 system values below 1 are pure times and keep the 1970-01-01
// date, values below 60 count from 1899-12-31, and later values count from
// 1899-12-30 to step over the phantom 1900-02-29. The 1904 system counts from
// 1904-01-01. The fraction is rounded to whole seconds.
func SerialToTime(serial float64, date1904 bool) (time.Time, error) {
	if math.IsNaN(serial) || math.IsInf(serial, 0) {
		return time.Time{}, &DateError{Serial: serial, Reason: "not a finite number"}
	}
	if serial < 0 {
		return time.Time{}, &DateError{Serial: serial, Reason: "negative"}
	}
	tooLarge := serialTooLarge1900
	if date1904 {
		tooLarge = serialTooLarge1904
	}
	if serial >= float64(tooLarge) {
		return time.Time{}, &DateError{Serial: serial, Reason: "year 10000 or later"}
	}

	var epoch time.Time
	switch {
	case date1904:
		epoch = epoch1904
	case serial < 1:
		epoch = epochUnix
	case serial < 60:
		epoch = epoch1900
	default:
		epoch = epoch1900Minus1
	}

	days := int(serial)
	seconds := int(math.Round((serial - float64(days)) * 86400))
	return epoch.AddDate(0, 0, days).Add(time.Duration(seconds) * time.Second), nil
}

// TimeToSerial converts a time to its serial day number. Only the wall clock
// fields of t are used.
func TimeToSerial(t time.Time, date1904 bool) float64 {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	secs := t.Hour()*3600 + t.Minute()*60 + t.Second()
	frac := float64(secs)/86400 + float64(t.Nanosecond())/86400e9

	epoch := epoch1900Minus1
	switch {
	case date1904:
		epoch = epoch1904
	case day.Before(time.Date(1900, 3, 1, 0, 0, 0, 0, time.UTC)):
		epoch = epoch1900
	}
	days := int(math.Round(day.Sub(epoch).Hours() / 24))
	return float64(days) + frac
}

type tokenKind int

const (
	literalToken tokenKind = iota
	yearToken
	monthToken
	minuteToken
	dayToken
	hourToken
	secondToken
	ampmToken
	elapsedHourToken
	elapsedMinuteToken
	elapsedSecondToken
)

type dateToken struct {
	kind  tokenKind
	width int
	text  string
}

func (t dateToken) isField() bool { return t.kind != literalToken }

// tokenizeDate splits a date section into fields and literal text. Quoted
// strings and backslash escapes are literal; `_x` and `*x` padding is dropped
// along with bracketed locale tags.
func tokenizeDate(section string) []dateToken {
	var tokens []dateToken
	literal := func(s string) {
		if n := len(tokens); n > 0 && tokens[n-1].kind == literalToken {
			tokens[n-1].text += s
			return
		}
		tokens = append(tokens, dateToken{kind: literalToken, text: s})
	}
	run := func(s string, i int, c byte) int {
		n := 0
		for i+n < len(s) && lower(s[i+n]) == c {
			n++
		}
		return n
	}

	s := section
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '"':
			end := strings.IndexByte(s[i+1:], '"')
			if end < 0 {
				literal(s[i+1:])
				return tokens
			}
			literal(s[i+1 : i+1+end])
			i += end + 2
		case c == '\\' || c == '_' || c == '*':
			if i+1 >= len(s) {
				i++
				continue
			}
			_, size := utf8.DecodeRuneInString(s[i+1:])
			if c == '\\' {
				literal(s[i+1 : i+1+size])
			}
			i += 1 + size
		case c == '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				literal(s[i:])
				return tokens
			}
			inner := strings.ToLower(s[i+1 : i+end])
			switch {
			case inner != "" && strings.Trim(inner, "h") == "":
				tokens = append(tokens, dateToken{kind: elapsedHourToken, width: len(inner)})
			case inner != "" && strings.Trim(inner, "m") == "":
				tokens = append(tokens, dateToken{kind: elapsedMinuteToken, width: len(inner)})
			case inner != "" && strings.Trim(inner, "s") == "":
				tokens = append(tokens, dateToken{kind: elapsedSecondToken, width: len(inner)})
			}
			i += end + 1
		case hasFoldPrefix(s[i:], "am/pm"):
			tokens = append(tokens, dateToken{kind: ampmToken, text: "AM/PM"})
			i += 5
		case hasFoldPrefix(s[i:], "a/p"):
			tokens = append(tokens, dateToken{kind: ampmToken, text: "A/P"})
			i += 3
		case lower(c) == 'y':
			n := run(s, i, 'y')
			width := 4
			if n <= 2 {
				width = 2
			}
			tokens = append(tokens, dateToken{kind: yearToken, width: width})
			i += n
		case lower(c) == 'm':
			n := run(s, i, 'm')
			tokens = append(tokens, dateToken{kind: monthToken, width: min(n, 5)})
			i += n
		case lower(c) == 'd':
			n := run(s, i, 'd')
			tokens = append(tokens, dateToken{kind: dayToken, width: min(n, 4)})
			i += n
		case lower(c) == 'h':
			n := run(s, i, 'h')
			tokens = append(tokens, dateToken{kind: hourToken, width: min(n, 2)})
			i += n
		case lower(c) == 's':
			n := run(s, i, 's')
			tokens = append(tokens, dateToken{kind: secondToken, width: min(n, 2)})
			i += n
		default:
			_, size := utf8.DecodeRuneInString(s[i:])
			literal(s[i : i+size])
			i += size
		}
	}

	// m and mm mean minutes right after an hour or right before a second.
	for i := range tokens {
		if tokens[i].kind != monthToken || tokens[i].width > 2 {
			continue
		}
		if prev := prevField(tokens, i); prev == hourToken || prev == elapsedHourToken {
			tokens[i].kind = minuteToken
		} else if next := nextField(tokens, i); next == secondToken || next == elapsedSecondToken {
			tokens[i].kind = minuteToken
		}
	}
	return tokens
}

func prevField(tokens []dateToken, i int) tokenKind {
	for j := i - 1; j >= 0; j-- {
		if tokens[j].isField() {
			return tokens[j].kind
		}
	}
	return literalToken
}

func nextField(tokens []dateToken, i int) tokenKind {
	for j := i + 1; j < len(tokens); j++ {
		if tokens[j].isField() {
			return tokens[j].kind
		}
	}
	return literalToken
}

func renderDate(tokens []dateToken, serial float64, date1904 bool) (string, bool) {
	t, err := SerialToTime(serial, date1904)
	if err != nil {
		return "", false
	}
	twelveHour := false
	for _, tok := range tokens {
		if tok.kind == ampmToken {
			twelveHour = true
			break
		}
	}
	elapsed := int64(math.Round(serial * 86400))

	var b strings.Builder
	for _, tok := range tokens {
		switch tok.kind {
		case literalToken:
			b.WriteString(tok.text)
		case yearToken:
			if tok.width == 2 {
				fmt.Fprintf(&b, "%02d", t.Year()%100)
			} else {
				fmt.Fprintf(&b, "%04d", t.Year())
			}
		case monthToken:
			name := t.Month().String()
			switch tok.width {
			case 1:
				fmt.Fprintf(&b, "%d", int(t.Month()))
			case 2:
				fmt.Fprintf(&b, "%02d", int(t.Month()))
			case 3:
				b.WriteString(name[:3])
			case 4:
				b.WriteString(name)
			default:
				b.WriteString(name[:1])
			}
		case minuteToken:
			pad(&b, t.Minute(), tok.width)
		case dayToken:
			name := t.Weekday().String()
			switch tok.width {
			case 1, 2:
				pad(&b, t.Day(), tok.width)
			case 3:
				b.WriteString(name[:3])
			default:
				b.WriteString(name)
			}
		case hourToken:
			h := t.Hour()
			if twelveHour {
				h %= 12
				if h == 0 {
					h = 12
				}
			}
			pad(&b, h, tok.width)
		case secondToken:
			pad(&b, t.Second(), tok.width)
		case ampmToken:
			am := t.Hour() < 12
			switch {
			case tok.text == "A/P" && am:
				b.WriteString("A")
			case tok.text == "A/P":
				b.WriteString("P")
			case am:
				b.WriteString("AM")
			default:
				b.WriteString("PM")
			}
		case elapsedHourToken:
			pad(&b, int(elapsed/3600), tok.width)
		case elapsedMinuteToken:
			pad(&b, int(elapsed/60), tok.width)
		case elapsedSecondToken:
			pad(&b, int(elapsed), tok.width)
		}
	}
	return b.String(), true
}

func pad(b *strings.Builder, n, width int) {
	fmt.Fprintf(b, "%0*d", width, n)
}

func lower(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

func hasFoldPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
