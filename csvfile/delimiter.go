package csvfile

import (
	"bufio"
	"bytes"
	"io"
	"math"
	"strings"

	"github.com/montanaflynn/stats"
)

// Candidates is the delimiter priority list used by InferDelimiter.
var Candidates = []rune{',', ';', '\t', '|', ':', ' ', '~'}

const (
	enclosure  = '"'
	escapeChar = '\\'

	// sampleLines bounds the logical lines counted by InferDelimiter.
	sampleLines = 1000
)

// sepDirective returns the delimiter named by a "sep=X" first line.
func sepDirective(line string) (rune, bool) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) != 5 || !strings.EqualFold(line[:4], "sep=") {
		return 0, false
	}
	return rune(line[4]), true
}

// InferDelimiter guesses the field delimiter of UTF-8 delimited text. A
// "sep=X" first line wins; otherwise the candidate whose per-line count
// deviates least from its median is chosen. Comma is returned when nothing
// qualifies.
func InferDelimiter(r io.Reader) rune {
	lines := newLineReader(r)
	first, ok := lines.raw()
	if !ok {
		return Candidates[0]
	}
	if d, ok := sepDirective(first); ok {
		return d
	}
	lines.unread(first)

	counts := make([][]float64, len(Candidates))
	n := 0
	for n < sampleLines {
		line, ok := lines.logical()
		if !ok {
			break
		}
		n++
		for i, c := range Candidates {
			counts[i] = append(counts[i], float64(strings.Count(line, string(c))))
		}
	}
	if n == 0 {
		return Candidates[0]
	}

	best, lowest := Candidates[0], math.Inf(1)
	for i, c := range Candidates {
		median, err := stats.Median(counts[i])
		if err != nil || median == 0 {
			continue
		}
		var sum float64
		for _, v := range counts[i] {
			sum += (v - median) * (v - median)
		}
		if msd := sum / float64(n); msd < lowest {
			best, lowest = c, msd
		}
	}
	return best
}

// lineReader yields physical lines, joining raw lines while an enclosure is
// left open.
type lineReader struct {
	sc      *bufio.Scanner
	pending []string
}

func newLineReader(r io.Reader) *lineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	sc.Split(scanLinesKeepEOL)
	return &lineReader{sc: sc}
}

func (l *lineReader) raw() (string, bool) {
	if n := len(l.pending); n > 0 {
		line := l.pending[n-1]
		l.pending = l.pending[:n-1]
		return line, true
	}
	if !l.sc.Scan() {
		return "", false
	}
	return l.sc.Text(), true
}

func (l *lineReader) unread(line string) {
	l.pending = append(l.pending, line)
}

// logical returns the next physical line with its enclosed spans removed.
func (l *lineReader) logical() (string, bool) {
	line, ok := l.raw()
	if !ok {
		return "", false
	}
	stripped, open := stripEnclosed(line)
	for open {
		next, ok := l.raw()
		if !ok {
			break
		}
		line += next
		stripped, open = stripEnclosed(line)
	}
	return stripped, true
}

// stripEnclosed drops every span between a pair of enclosures. Enclosures
// preceded by the escape character do not count. open reports an enclosure
// without a partner; the text after it is dropped too.
func stripEnclosed(line string) (stripped string, open bool) {
	var b strings.Builder
	start := 0
	for i := 0; i < len(line); i++ {
		if line[i] != enclosure || (i > 0 && line[i-1] == escapeChar) {
			continue
		}
		if !open {
			b.WriteString(line[start:i])
			open = true
		} else {
			start = i + 1
			open = false
		}
	}
	if !open {
		b.WriteString(line[start:])
	}
	return b.String(), open
}

// scanLinesKeepEOL is bufio.ScanLines without dropping the terminator, so
// joined lines keep their line breaks.
func scanLinesKeepEOL(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i+1], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
