package style

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/yamitzky/sheetread/sheet"
)

// Family classifies one section of a number-format code.
type Family int

// Format families, in the order a section is tested against them.
const (
	General Family = iota
	Number
	Scientific
	Currency
	Percent
	Fraction
	Date
)

func (f Family) String() string {
	switch f {
	case General:
		return "general"
	case Number:
		return "number"
	case Scientific:
		return "scientific"
	case Currency:
		return "currency"
	case Percent:
		return "percent"
	case Fraction:
		return "fraction"
	case Date:
		return "date"
	}
	return fmt.Sprintf("Family(%d)", int(f))
}

var (
	colorRE      = regexp.MustCompile(`(?i)^\[(black|blue|cyan|green|magenta|red|white|yellow|color\d+)\]`)
	numberRE     = regexp.MustCompile(`^((#,##)?0)\.?(0*)$`)
	scientificRE = regexp.MustCompile(`([#0]*0)\.(0*)E(0+)`)
	currencyRE   = regexp.MustCompile(`^(￥|€|\$|US\$)?#,##0\.?(0*)$`)
	percentRE    = regexp.MustCompile(`^0(\.)?(0*)%$`)
	fractionRE   = regexp.MustCompile(`^#\s(\?)*/(\?)*$`)
	dateRE       = regexp.MustCompile(`(?i)^(\[\$[[:alpha:]]*-[0-9A-F]*\])*(\[(h+|m+|s+)\]|[hmsdy])`)

	literalStripper = strings.NewReplacer(`"`, "", "+", "", "-", "")
)

var hundred = decimal.NewFromInt(100)

// Code is a parsed number-format code. It is immutable and safe for
// concurrent use.
type Code struct {
	Source   string
	sections []section
}

type section struct {
	family    Family
	prefix    string // literal text before the digits, e.g. "(" or "$"
	suffix    string
	minus     bool // section starts with a literal '-'
	thousands bool
	precision int32
	group     int // scientific: integer placeholders, >1 means engineering notation
	expDigits int
	date      []dateToken
	literal   bool // no placeholders: text is shown instead of the value
	text      string
}

// Parse splits a format code on unquoted ';' and classifies every section.
func Parse(code string) *Code {
	c := &Code{Source: code}
	for _, raw := range splitSections(code) {
		c.sections = append(c.sections, parseSection(raw))
	}
	return c
}

// Family returns the family of the section used for positive numbers.
func (c *Code) Family() Family {
	return c.sections[0].family
}

// Render formats a raw cell value. Strings are returned verbatim, booleans
// as TRUE or FALSE, and nil as "".
func (c *Code) Render(value any, date1904 bool) string {
	v, ok := value.(float64)
	if !ok {
		return sheet.Stringify(value)
	}
	s, explicit := c.pick(v)
	return s.render(v, explicit, date1904)
}

// pick chooses the section for v. With two sections the second serves
// negatives; with three or four the third serves zero.
func (c *Code) pick(v float64) (section, bool) {
	s := c.sections
	switch len(s) {
	case 2:
		if v < 0 {
			return s[1], true
		}
	case 3, 4:
		if v < 0 {
			return s[1], true
		}
		if v == 0 {
			return s[2], true
		}
	}
	return s[0], false
}

func splitSections(code string) []string {
	var parts []string
	quoted := false
	start := 0
	for i := 0; i < len(code); i++ {
		switch code[i] {
		case '"':
			quoted = !quoted
		case '\\':
			i++
		case ';':
			if !quoted {
				parts = append(parts, code[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, code[start:])
}

func parseSection(raw string) section {
	raw = strings.TrimSpace(colorRE.ReplaceAllString(raw, ""))
	lit := stripPadding(raw)
	num := strings.TrimSpace(literalStripper.Replace(lit))

	s := section{minus: strings.HasPrefix(lit, "-")}
	if text, ok := literalText(lit); ok {
		s.literal, s.text = true, text
		return s
	}
	if num == "" || num == "@" || num == "000000" || strings.EqualFold(num, "General") {
		return s
	}
	if s.classifyNumeric(num) {
		return s
	}
	if m := scientificRE.FindStringSubmatch(num); m != nil {
		s.family = Scientific
		s.group = len(m[1])
		s.precision = int32(len(m[2]))
		s.expDigits = len(m[3])
		return s
	}
	if fractionRE.MatchString(num) {
		s.family = Fraction
		return s
	}
	if pre, core, post := unwrap(num); core != num && s.classifyNumeric(core) {
		s.prefix = pre + s.prefix
		s.suffix += post
		return s
	}
	if dateRE.MatchString(raw) {
		s.family = Date
		s.date = tokenizeDate(raw)
	}
	return s
}

func (s *section) classifyNumeric(num string) bool {
	if m := numberRE.FindStringSubmatch(num); m != nil {
		s.family = Number
		s.thousands = m[2] != ""
		s.precision = int32(len(m[3]))
		return true
	}
	if m := currencyRE.FindStringSubmatch(num); m != nil {
		s.family = Currency
		s.prefix = m[1]
		s.thousands = true
		s.precision = int32(len(m[2]))
		return true
	}
	if m := percentRE.FindStringSubmatch(num); m != nil {
		s.family = Percent
		s.precision = int32(len(m[2]))
		return true
	}
	return false
}

// unwrap peels a leading currency symbol and enclosing parentheses, the
// shapes accounting formats use for negative sections.
func unwrap(num string) (pre, core, post string) {
	core = num
	for _, cur := range []string{"US$", "$", "€", "￥"} {
		if strings.HasPrefix(core, cur+"(") {
			pre = cur
			core = core[len(cur):]
			break
		}
	}
	if len(core) >= 2 && core[0] == '(' && core[len(core)-1] == ')' {
		pre += "("
		core = core[1 : len(core)-1]
		post = ")"
	}
	return pre, core, post
}

// literalText returns the text of a section made of quoted strings, symbols
// and '?' blanks only, as accounting formats use for zero.
func literalText(lit string) (string, bool) {
	var b strings.Builder
	quoted := false
	for _, r := range lit {
		switch {
		case r == '"':
			quoted = !quoted
		case quoted:
			b.WriteRune(r)
		case r == '?':
			b.WriteByte(' ')
		case unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("#@%.,/[]", r):
			return "", false
		default:
			b.WriteRune(r)
		}
	}
	text := strings.TrimSpace(b.String())
	return text, text != ""
}

// stripPadding removes `_x` and `*x` padding, backslash escapes and
// quotes, keeping the escaped and quoted text.
func stripPadding(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '_', '*', '\\':
			if i+1 >= len(s) {
				continue
			}
			_, size := utf8.DecodeRuneInString(s[i+1:])
			if c == '\\' {
				b.WriteString(s[i+1 : i+1+size])
			}
			i += size
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (s section) render(v float64, explicit, date1904 bool) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sheet.Stringify(v)
	}
	if s.literal {
		return s.text
	}
	if explicit && s.family != General && s.family != Fraction && s.family != Date {
		v = math.Abs(v)
	}

	var body string
	switch s.family {
	case Number, Currency:
		body = fixed(decimal.NewFromFloat(v), s.precision, s.thousands)
	case Percent:
		body = decimal.NewFromFloat(v).Mul(hundred).StringFixed(s.precision) + "%"
	case Scientific:
		body = scientific(v, s.group, s.precision, s.expDigits)
	case Date:
		if out, ok := renderDate(s.date, v, date1904); ok {
			return out
		}
		return sheet.Stringify(v)
	default:
		return sheet.Stringify(v)
	}

	sign := ""
	if strings.HasPrefix(body, "-") {
		sign, body = "-", body[1:]
	} else if explicit && s.minus {
		sign = "-"
	}
	return sign + s.prefix + body + s.suffix
}

func fixed(d decimal.Decimal, precision int32, thousands bool) string {
	out := d.StringFixed(precision)
	if !thousands {
		return out
	}
	sign := ""
	if strings.HasPrefix(out, "-") {
		sign, out = "-", out[1:]
	}
	intPart, frac, hasFrac := strings.Cut(out, ".")

	var b strings.Builder
	b.WriteString(sign)
	for i := 0; i < len(intPart); i++ {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteByte(intPart[i])
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

func scientific(v float64, group int, precision int32, expDigits int) string {
	if group < 1 {
		group = 1
	}
	exp := 0
	if v != 0 {
		exp = int(math.Floor(math.Log10(math.Abs(v))))
		exp = floorDiv(exp, group) * group
	}

	d := decimal.NewFromFloat(v)
	mant := d.Shift(int32(-exp)).Round(precision)
	if !mant.IsZero() {
		limit := decimal.New(1, int32(group))
		switch {
		case mant.Abs().GreaterThanOrEqual(limit):
			exp += group
			mant = d.Shift(int32(-exp)).Round(precision)
		case mant.Abs().LessThan(decimal.New(1, 0)):
			exp -= group
			mant = d.Shift(int32(-exp)).Round(precision)
		}
	}

	sign := "+"
	if exp < 0 {
		sign, exp = "-", -exp
	}
	return fmt.Sprintf("%sE%s%0*d", mant.StringFixed(precision), sign, expDigits, exp)
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
