package symbol

import (
	"strings"
)

// Pair 表示一个外汇货币对（基础货币 / 计价货币）。
type Pair struct {
	Base  string
	Quote string
}

// Code 返回紧凑写法，例如 USDJPY。
func (p Pair) Code() string {
	if p.Base == "" || p.Quote == "" {
		return ""
	}
	return p.Base + p.Quote
}

// Display 返回带分隔符的写法，例如 USD/JPY。
func (p Pair) Display() string {
	if p.Base == "" || p.Quote == "" {
		return ""
	}
	return p.Base + "/" + p.Quote
}

// japaneseNames 日文报价单中常见的货币对写法。
var japaneseNames = map[string]Pair{
	"ドル円":    {Base: "USD", Quote: "JPY"},
	"ドル/円":   {Base: "USD", Quote: "JPY"},
	"ユーロ円":   {Base: "EUR", Quote: "JPY"},
	"ユーロ/円":  {Base: "EUR", Quote: "JPY"},
	"ポンド円":   {Base: "GBP", Quote: "JPY"},
	"ポンド/円":  {Base: "GBP", Quote: "JPY"},
	"ユーロドル":  {Base: "EUR", Quote: "USD"},
	"ユーロ/ドル": {Base: "EUR", Quote: "USD"},
	"ポンドドル":  {Base: "GBP", Quote: "USD"},
	"ポンド/ドル": {Base: "GBP", Quote: "USD"},
}

// Parse 接受 USD/JPY、USD_JPY、usd-jpy、USDJPY、ドル円 等写法。
func Parse(s string) Pair {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Pair{}
	}
	if p, ok := japaneseNames[s]; ok {
		return p
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	for _, sep := range []string{"/", "_", "-", " "} {
		if parts := strings.SplitN(s, sep, 2); len(parts) == 2 {
			base, quote := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
			if isCurrency(base) && isCurrency(quote) {
				return Pair{Base: base, Quote: quote}
			}
			return Pair{}
		}
	}
	if len(s) == 6 && isCurrency(s[:3]) && isCurrency(s[3:]) {
		return Pair{Base: s[:3], Quote: s[3:]}
	}
	return Pair{}
}

func isCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Normalize 统一为紧凑大写写法；无法识别时返回去空白的大写原文。
func Normalize(s string) string {
	if code := Parse(s).Code(); code != "" {
		return code
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

func NormalizeList(pairs []string) []string {
	if len(pairs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(pairs))
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		norm := Normalize(p)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

func IsValid(s string) bool {
	p := Parse(s)
	return p.Base != "" && p.Quote != ""
}

// IsJPYQuote 判断计价货币是否为日元；无法解析时退化为包含 JPY 的判断。
func IsJPYQuote(s string) bool {
	if p := Parse(s); p.Quote != "" {
		return p.Quote == "JPY"
	}
	return strings.Contains(strings.ToUpper(s), "JPY")
}
