package style

// builtinFormats holds the number-format codes a workbook may reference by id
// without declaring them in a FORMAT record.
var builtinFormats = map[int]string{
	0: "",
	1: "0",
	2: "0.00",
	3: "#,##0",
	4: "#,##0.00",

	9:  "0%",
	10: "0.00%",
	11: "0.00E+00",
	12: "# ?/?",
	13: "# ??/??",
	14: "mm-dd-yy",
	15: "d-mmm-yy",
	16: "d-mmm",
	17: "mmm-yy",
	18: "h:mm AM/PM",
	19: "h:mm:ss AM/PM",
	20: "h:mm",
	21: "h:mm:ss",
	22: "m/d/yy h:mm",

	37: "#,##0 ;(#,##0)",
	38: "#,##0 ;[Red](#,##0)",
	39: "#,##0.00;(#,##0.00)",
	40: "#,##0.00;[Red](#,##0.00)",

	44: `_("$"* #,##0.00_);_("$"* \(#,##0.00\);_("$"* "-"??_);_(@_)`,
	45: "mm:ss",
	46: "[h]:mm:ss",
	47: "mmss.0",
	48: "##0.0E+0",
	49: "@",

	// CHT & CHS
	27: "[$-404]e/m/d",
	30: "m/d/yy",
	36: "[$-404]e/m/d",
	50: "[$-404]e/m/d",
	57: "[$-404]e/m/d",

	// THA
	59: "t0",
	60: "t0.00",
	61: "t#,##0",
	62: "t#,##0.00",
	67: "t0%",
	68: "t0.00%",
	69: "t# ?/?",
	70: "t# ??/??",

	// JPN
	28: `[$-411]ggge"年"m"月"d"日"`,
	29: `[$-411]ggge"年"m"月"d"日"`,
	31: `yyyy"年"m"月"d"日"`,
	32: `h"時"mm"分"`,
	33: `h"時"mm"分"ss"秒"`,
	34: `yyyy"年"m"月"`,
	35: `m"月"d"日"`,
	51: `[$-411]ggge"年"m"月"d"日"`,
	52: `yyyy"年"m"月"`,
	53: `m"月"d"日"`,
	54: `[$-411]ggge"年"m"月"d"日"`,
	55: `yyyy"年"m"月"`,
	56: `m"月"d"日"`,
	58: `[$-411]ggge"年"m"月"d"日"`,
}

// BuiltinFormat returns the predefined code for a format id.
func BuiltinFormat(id int) (string, bool) {
	code, ok := builtinFormats[id]
	return code, ok
}
