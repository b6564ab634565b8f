package xlrd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yamitzky/sheetread/sheet"
)

// FormulaError reports a token array that cannot be turned back into text.
type FormulaError struct {
	Message string
}

func (e *FormulaError) Error() string {
	return e.Message
}

func newFormulaError(format string, args ...any) *FormulaError {
	return &FormulaError{Message: fmt.Sprintf(format, args...)}
}

// Operator precedence used to decide where parentheses go.
const (
	LEAF_RANK = 90
	FUNC_RANK = 90
)

type operand struct {
	text string
	rank int
}

type binop struct {
	sym  string
	rank int
}

var binops = map[byte]binop{
	0x03: {"+", 30},
	0x04: {"-", 30},
	0x05: {"*", 40},
	0x06: {"/", 40},
	0x07: {"^", 50},
	0x08: {"&", 20},
	0x09: {"<", 10},
	0x0A: {"<=", 10},
	0x0B: {"=", 10},
	0x0C: {">=", 10},
	0x0D: {">", 10},
	0x0E: {"<>", 10},
	0x0F: {" ", 80}, // intersection
	0x10: {",", 80}, // union
	0x11: {":", 80}, // range
}

type unop struct {
	prefix, suffix string
	rank           int
}

var unops = map[byte]unop{
	0x12: {"+", "", 70},
	0x13: {"-", "", 70},
	0x14: {"", "%", 60},
}

// fixed token sizes in BIFF8, indexed by the token id with the class bits
// folded away; 0 marks tokens handled specially
var tokenSize = map[byte]int{
	0x1C: 2, 0x1D: 2, 0x1E: 3, 0x1F: 9,
	0x21: 3, 0x22: 4, 0x24: 5, 0x25: 9,
	0x26: 7, 0x27: 7, 0x28: 7, 0x29: 3,
	0x2A: 5, 0x2B: 9, 0x3C: 7, 0x3D: 11,
}

func wrap(o operand, rank int) string {
	if o.rank < rank {
		return "(" + o.text + ")"
	}
	return o.text
}

// decompileFormula turns the parsed-expression tokens of a BIFF8 cell
// formula back into source text, "=" included. Tokens that need workbook
// context (names, external sheets, shared and array formulas) are reported
// as errors.
func decompileFormula(tokens []byte) (string, error) {
	var stack []operand
	pop := func(n int) ([]operand, error) {
		if len(stack) < n {
			return nil, newFormulaError("formula stack underflow")
		}
		args := append([]operand(nil), stack[len(stack)-n:]...)
		stack = stack[:len(stack)-n]
		return args, nil
	}
	push := func(text string, rank int) {
		stack = append(stack, operand{text, rank})
	}

	for pos := 0; pos < len(tokens); {
		op := tokens[pos]
		id := op
		if op&0x60 != 0 {
			id = op&0x1f | 0x20
		}
		size := tokenSize[id]
		if size > 0 && pos+size > len(tokens) {
			return "", newFormulaError("token 0x%02x truncated at %d", op, pos)
		}

		switch {
		case id == 0x01 || id == 0x02:
			return "", newFormulaError("shared or table formula")
		case binops[id].sym != "":
			args, err := pop(2)
			if err != nil {
				return "", err
			}
			b := binops[id]
			push(wrap(args[0], b.rank)+b.sym+wrap(args[1], b.rank), b.rank)
			size = 1
		case unops[id].rank != 0:
			args, err := pop(1)
			if err != nil {
				return "", err
			}
			u := unops[id]
			push(u.prefix+wrap(args[0], u.rank)+u.suffix, u.rank)
			size = 1
		case id == 0x15: // tParen
			args, err := pop(1)
			if err != nil {
				return "", err
			}
			push("("+args[0].text+")", FUNC_RANK)
			size = 1
		case id == 0x16: // tMissArg
			push("", LEAF_RANK)
			size = 1
		case id == 0x17: // tStr
			s, next, err := unpackUnicode(tokens, pos+1, 1)
			if err != nil {
				return "", err
			}
			push(`"`+strings.ReplaceAll(s, `"`, `""`)+`"`, LEAF_RANK)
			size = next - pos
		case id == 0x19: // tAttr
			if pos+4 > len(tokens) {
				return "", newFormulaError("tAttr truncated at %d", pos)
			}
			flags := tokens[pos+1]
			size = 4
			switch {
			case flags&0x04 != 0: // choose: jump table follows
				size += 2 * (le16(tokens, pos+2) + 1)
			case flags&0x10 != 0: // SUM with one argument
				args, err := pop(1)
				if err != nil {
					return "", err
				}
				push("SUM("+args[0].text+")", FUNC_RANK)
			}
		case id == 0x1C: // tErr
			push(errorText(tokens[pos+1]), LEAF_RANK)
		case id == 0x1D: // tBool
			if tokens[pos+1] != 0 {
				push("TRUE", LEAF_RANK)
			} else {
				push("FALSE", LEAF_RANK)
			}
		case id == 0x1E: // tInt
			push(strconv.Itoa(le16(tokens, pos+1)), LEAF_RANK)
		case id == 0x1F: // tNum
			push(strconv.FormatFloat(float64At(tokens, pos+1), 'G', -1, 64), LEAF_RANK)
		case id == 0x21 || id == 0x22: // tFunc, tFuncVar
			var fn, argc int
			if id == 0x21 {
				fn = le16(tokens, pos+1)
				def, ok := funcDefs[fn]
				if !ok {
					return "", newFormulaError("unknown function %d", fn)
				}
				argc = def.minArgs
			} else {
				argc = int(tokens[pos+1] & 0x7f)
				fn = le16(tokens, pos+2) & 0x7fff
			}
			args, err := pop(argc)
			if err != nil {
				return "", err
			}
			var name string
			if fn == 255 && len(args) > 0 { // add-in: the name is the first argument
				name, args = args[0].text, args[1:]
			} else if def, ok := funcDefs[fn]; ok {
				name = def.name
			} else {
				return "", newFormulaError("unknown function %d", fn)
			}
			texts := make([]string, len(args))
			for i, a := range args {
				texts[i] = a.text
			}
			push(name+"("+strings.Join(texts, ",")+")", FUNC_RANK)
		case id == 0x24: // tRef
			push(cellRef(le16(tokens, pos+1), le16(tokens, pos+3)), LEAF_RANK)
		case id == 0x25: // tArea
			r1, r2 := le16(tokens, pos+1), le16(tokens, pos+3)
			c1, c2 := le16(tokens, pos+5), le16(tokens, pos+7)
			push(cellRef(r1, c1)+":"+cellRef(r2, c2), LEAF_RANK)
		case id >= 0x26 && id <= 0x29:
			// tMem* tokens only announce the subexpression that follows
		case id == 0x2A || id == 0x2B || id == 0x3C || id == 0x3D:
			push("#REF!", LEAF_RANK)
		default:
			return "", newFormulaError("unsupported token 0x%02x", op)
		}
		if size <= 0 {
			size = 1
		}
		pos += size
	}

	if len(stack) != 1 {
		return "", newFormulaError("formula leaves %d operands", len(stack))
	}
	return "=" + stack[0].text, nil
}

// cellRef renders a BIFF8 cell address in A1 style. Bits 14 and 15 of the
// column field mark the column and row as relative.
func cellRef(row, colField int) string {
	col := colField & 0x3fff
	var b strings.Builder
	if colField&0x4000 == 0 {
		b.WriteByte('$')
	}
	b.WriteString(sheet.ColumnLetter(col))
	if colField&0x8000 == 0 {
		b.WriteByte('$')
	}
	b.WriteString(strconv.Itoa(row + 1))
	return b.String()
}

type funcSpec struct {
	name             string
	minArgs, maxArgs int
}

// funcDefs maps built-in function ids to names and argument counts.
var funcDefs = map[int]funcSpec{
	0:   {"COUNT", 0, 30},
	1:   {"IF", 2, 3},
	2:   {"ISNA", 1, 1},
	3:   {"ISERROR", 1, 1},
	4:   {"SUM", 0, 30},
	5:   {"AVERAGE", 1, 30},
	6:   {"MIN", 1, 30},
	7:   {"MAX", 1, 30},
	8:   {"ROW", 0, 1},
	9:   {"COLUMN", 0, 1},
	10:  {"NA", 0, 0},
	11:  {"NPV", 2, 30},
	12:  {"STDEV", 1, 30},
	13:  {"DOLLAR", 1, 2},
	14:  {"FIXED", 2, 3},
	15:  {"SIN", 1, 1},
	16:  {"COS", 1, 1},
	17:  {"TAN", 1, 1},
	18:  {"ATAN", 1, 1},
	19:  {"PI", 0, 0},
	20:  {"SQRT", 1, 1},
	21:  {"EXP", 1, 1},
	22:  {"LN", 1, 1},
	23:  {"LOG10", 1, 1},
	24:  {"ABS", 1, 1},
	25:  {"INT", 1, 1},
	26:  {"SIGN", 1, 1},
	27:  {"ROUND", 2, 2},
	28:  {"LOOKUP", 2, 3},
	29:  {"INDEX", 2, 4},
	30:  {"REPT", 2, 2},
	31:  {"MID", 3, 3},
	32:  {"LEN", 1, 1},
	33:  {"VALUE", 1, 1},
	34:  {"TRUE", 0, 0},
	35:  {"FALSE", 0, 0},
	36:  {"AND", 1, 30},
	37:  {"OR", 1, 30},
	38:  {"NOT", 1, 1},
	39:  {"MOD", 2, 2},
	40:  {"DCOUNT", 3, 3},
	41:  {"DSUM", 3, 3},
	42:  {"DAVERAGE", 3, 3},
	43:  {"DMIN", 3, 3},
	44:  {"DMAX", 3, 3},
	45:  {"DSTDEV", 3, 3},
	46:  {"VAR", 1, 30},
	47:  {"DVAR", 3, 3},
	48:  {"TEXT", 2, 2},
	49:  {"LINEST", 1, 4},
	50:  {"TREND", 1, 4},
	51:  {"LOGEST", 1, 4},
	52:  {"GROWTH", 1, 4},
	56:  {"PV", 3, 5},
	57:  {"FV", 3, 5},
	58:  {"NPER", 3, 5},
	59:  {"PMT", 3, 5},
	60:  {"RATE", 3, 6},
	61:  {"MIRR", 3, 3},
	62:  {"IRR", 1, 2},
	63:  {"RAND", 0, 0},
	64:  {"MATCH", 2, 3},
	65:  {"DATE", 3, 3},
	66:  {"TIME", 3, 3},
	67:  {"DAY", 1, 1},
	68:  {"MONTH", 1, 1},
	69:  {"YEAR", 1, 1},
	70:  {"WEEKDAY", 1, 2},
	71:  {"HOUR", 1, 1},
	72:  {"MINUTE", 1, 1},
	73:  {"SECOND", 1, 1},
	74:  {"NOW", 0, 0},
	75:  {"AREAS", 1, 1},
	76:  {"ROWS", 1, 1},
	77:  {"COLUMNS", 1, 1},
	78:  {"OFFSET", 3, 5},
	82:  {"SEARCH", 2, 3},
	83:  {"TRANSPOSE", 1, 1},
	86:  {"TYPE", 1, 1},
	97:  {"ATAN2", 2, 2},
	98:  {"ASIN", 1, 1},
	99:  {"ACOS", 1, 1},
	100: {"CHOOSE", 2, 30},
	101: {"HLOOKUP", 3, 4},
	102: {"VLOOKUP", 3, 4},
	105: {"ISREF", 1, 1},
	109: {"LOG", 1, 2},
	111: {"CHAR", 1, 1},
	112: {"LOWER", 1, 1},
	113: {"UPPER", 1, 1},
	114: {"PROPER", 1, 1},
	115: {"LEFT", 1, 2},
	116: {"RIGHT", 1, 2},
	117: {"EXACT", 2, 2},
	118: {"TRIM", 1, 1},
	119: {"REPLACE", 4, 4},
	120: {"SUBSTITUTE", 3, 4},
	121: {"CODE", 1, 1},
	124: {"FIND", 2, 3},
	125: {"CELL", 1, 2},
	126: {"ISERR", 1, 1},
	127: {"ISTEXT", 1, 1},
	128: {"ISNUMBER", 1, 1},
	129: {"ISBLANK", 1, 1},
	130: {"T", 1, 1},
	131: {"N", 1, 1},
	140: {"DATEVALUE", 1, 1},
	141: {"TIMEVALUE", 1, 1},
	142: {"SLN", 3, 3},
	143: {"SYD", 4, 4},
	144: {"DDB", 4, 5},
	148: {"INDIRECT", 1, 2},
	162: {"CLEAN", 1, 1},
	163: {"MDETERM", 1, 1},
	164: {"MINVERSE", 1, 1},
	165: {"MMULT", 2, 2},
	167: {"IPMT", 4, 6},
	168: {"PPMT", 4, 6},
	169: {"COUNTA", 0, 30},
	183: {"PRODUCT", 0, 30},
	184: {"FACT", 1, 1},
	189: {"DPRODUCT", 3, 3},
	190: {"ISNONTEXT", 1, 1},
	193: {"STDEVP", 1, 30},
	194: {"VARP", 1, 30},
	195: {"DSTDEVP", 3, 3},
	196: {"DVARP", 3, 3},
	197: {"TRUNC", 1, 2},
	198: {"ISLOGICAL", 1, 1},
	199: {"DCOUNTA", 3, 3},
	204: {"USDOLLAR", 1, 2},
	205: {"FINDB", 2, 3},
	206: {"SEARCHB", 2, 3},
	207: {"REPLACEB", 4, 4},
	208: {"LEFTB", 1, 2},
	209: {"RIGHTB", 1, 2},
	210: {"MIDB", 3, 3},
	211: {"LENB", 1, 1},
	212: {"ROUNDUP", 2, 2},
	213: {"ROUNDDOWN", 2, 2},
	214: {"ASC", 1, 1},
	215: {"DBCS", 1, 1},
	216: {"RANK", 2, 3},
	219: {"ADDRESS", 2, 5},
	220: {"DAYS360", 2, 3},
	221: {"TODAY", 0, 0},
	222: {"VDB", 5, 7},
	227: {"MEDIAN", 1, 30},
	228: {"SUMPRODUCT", 1, 30},
	229: {"SINH", 1, 1},
	230: {"COSH", 1, 1},
	231: {"TANH", 1, 1},
	232: {"ASINH", 1, 1},
	233: {"ACOSH", 1, 1},
	234: {"ATANH", 1, 1},
	235: {"DGET", 3, 3},
	244: {"INFO", 1, 1},
	247: {"DB", 4, 5},
	252: {"FREQUENCY", 2, 2},
	261: {"ERROR.TYPE", 1, 1},
	269: {"AVEDEV", 1, 30},
	270: {"BETADIST", 3, 5},
	271: {"GAMMALN", 1, 1},
	272: {"BETAINV", 3, 5},
	273: {"BINOMDIST", 4, 4},
	274: {"CHIDIST", 2, 2},
	275: {"CHIINV", 2, 2},
	276: {"COMBIN", 2, 2},
	277: {"CONFIDENCE", 3, 3},
	278: {"CRITBINOM", 3, 3},
	279: {"EVEN", 1, 1},
	280: {"EXPONDIST", 3, 3},
	281: {"FDIST", 3, 3},
	282: {"FINV", 3, 3},
	283: {"FISHER", 1, 1},
	284: {"FISHERINV", 1, 1},
	285: {"FLOOR", 2, 2},
	286: {"GAMMADIST", 4, 4},
	287: {"GAMMAINV", 3, 3},
	288: {"CEILING", 2, 2},
	289: {"HYPGEOMDIST", 4, 4},
	290: {"LOGNORMDIST", 3, 3},
	291: {"LOGINV", 3, 3},
	292: {"NEGBINOMDIST", 3, 3},
	293: {"NORMDIST", 4, 4},
	294: {"NORMSDIST", 1, 1},
	295: {"NORMINV", 3, 3},
	296: {"NORMSINV", 1, 1},
	297: {"STANDARDIZE", 3, 3},
	298: {"ODD", 1, 1},
	299: {"PERMUT", 2, 2},
	300: {"POISSON", 3, 3},
	301: {"TDIST", 3, 3},
	302: {"WEIBULL", 4, 4},
	303: {"SUMXMY2", 2, 2},
	304: {"SUMX2MY2", 2, 2},
	305: {"SUMX2PY2", 2, 2},
	306: {"CHITEST", 2, 2},
	307: {"CORREL", 2, 2},
	308: {"COVAR", 2, 2},
	309: {"FORECAST", 3, 3},
	310: {"FTEST", 2, 2},
	311: {"INTERCEPT", 2, 2},
	312: {"PEARSON", 2, 2},
	313: {"RSQ", 2, 2},
	314: {"STEYX", 2, 2},
	315: {"SLOPE", 2, 2},
	316: {"TTEST", 4, 4},
	317: {"PROB", 3, 4},
	318: {"DEVSQ", 1, 30},
	319: {"GEOMEAN", 1, 30},
	320: {"HARMEAN", 1, 30},
	321: {"SUMSQ", 0, 30},
	322: {"KURT", 1, 30},
	323: {"SKEW", 1, 30},
	324: {"ZTEST", 2, 3},
	325: {"LARGE", 2, 2},
	326: {"SMALL", 2, 2},
	327: {"QUARTILE", 2, 2},
	328: {"PERCENTILE", 2, 2},
	329: {"PERCENTRANK", 2, 3},
	330: {"MODE", 1, 30},
	331: {"TRIMMEAN", 2, 2},
	332: {"TINV", 2, 2},
	336: {"CONCATENATE", 0, 30},
	337: {"POWER", 2, 2},
	342: {"RADIANS", 1, 1},
	343: {"DEGREES", 1, 1},
	344: {"SUBTOTAL", 2, 30},
	345: {"SUMIF", 2, 3},
	346: {"COUNTIF", 2, 2},
	347: {"COUNTBLANK", 1, 1},
	350: {"ISPMT", 4, 4},
	351: {"DATEDIF", 3, 3},
	352: {"DATESTRING", 1, 1},
	353: {"NUMBERSTRING", 2, 2},
	354: {"ROMAN", 1, 2},
	358: {"GETPIVOTDATA", 2, 30},
	359: {"HYPERLINK", 1, 2},
	360: {"PHONETIC", 1, 1},
	361: {"AVERAGEA", 1, 30},
	362: {"MAXA", 1, 30},
	363: {"MINA", 1, 30},
	364: {"STDEVPA", 1, 30},
	365: {"VARPA", 1, 30},
	366: {"STDEVA", 1, 30},
	367: {"VARA", 1, 30},
	368: {"BAHTTEXT", 1, 1},
	369: {"THAIDAYOFWEEK", 1, 1},
	370: {"THAIDIGIT", 1, 1},
	371: {"THAIMONTHOFYEAR", 1, 1},
	372: {"THAINUMSOUND", 1, 1},
	373: {"THAINUMSTRING", 1, 1},
	374: {"THAISTRINGLENGTH", 1, 1},
	375: {"ISTHAIDIGIT", 1, 1},
	376: {"ROUNDBAHTDOWN", 1, 1},
	377: {"ROUNDBAHTUP", 1, 1},
	378: {"THAIYEAR", 1, 1},
	379: {"RTD", 2, 5},
}
