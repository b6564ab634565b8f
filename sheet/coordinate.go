package sheet

import "strings"

// MaxColumns is the number of addressable columns (A..XFD).
const MaxColumns = 16384

// ColumnLetter returns the column name for a 0-based column index.
// ColumnLetter(0) is "A", ColumnLetter(25) is "Z", ColumnLetter(26) is "AA".
// Negative indexes give "".
func ColumnLetter(colx int) string {
	if colx < 0 {
		return ""
	}

	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	var buf [8]byte
	i := len(buf)
	for {
		i--
		buf[i] = alphabet[colx%26]
		colx = colx/26 - 1
		if colx < 0 {
			break
		}
	}
	return string(buf[i:])
}

// ColumnIndex returns the 0-based index for a column name, case-insensitive.
// The second result is false when name contains anything but letters.
func ColumnIndex(name string) (int, bool) {
	if name == "" {
		return -1, false
	}
	result := 0
	for _, r := range strings.ToUpper(name) {
		if r < 'A' || r > 'Z' {
			return -1, false
		}
		result = result*26 + int(r-'A'+1)
	}
	return result - 1, true
}

// SplitCoordinate splits "AB12" into its column index and 1-based row.
func SplitCoordinate(coord string) (column, row int, ok bool) {
	i := 0
	for i < len(coord) && (coord[i] >= 'A' && coord[i] <= 'Z' || coord[i] >= 'a' && coord[i] <= 'z') {
		i++
	}
	column, ok = ColumnIndex(coord[:i])
	if !ok || i == len(coord) {
		return 0, 0, false
	}
	for _, r := range coord[i:] {
		if r < '0' || r > '9' {
			return 0, 0, false
		}
		row = row*10 + int(r-'0')
	}
	return column, row, true
}
