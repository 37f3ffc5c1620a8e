package speech

import (
	"regexp"
	"strings"
	"unicode"
)

// MaxSynthesisChars 单次合成允许的最大字符数。
const MaxSynthesisChars = 4096

var abbreviations = map[string]string{
	"AI":   "A.I.",
	"API":  "A.P.I.",
	"URL":  "U.R.L.",
	"HTTP": "H.T.T.P.",
	"JSON": "J.S.O.N.",
	"XML":  "X.M.L.",
	"SQL":  "S.Q.L.",
	"CPU":  "C.P.U.",
	"GPU":  "G.P.U.",
	"RAM":  "R.A.M.",
}

var abbreviationPattern = regexp.MustCompile(`\b(AI|API|URL|HTTP|JSON|XML|SQL|CPU|GPU|RAM)\b(\.?)`)

// PreprocessText 规整待合成文本：合并空白、标点后补空格、缩写逐字母读出。
func PreprocessText(text string) string {
	text = strings.Join(strings.Fields(text), " ")

	var b strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		if !strings.ContainsRune(".!?,;:", r) || i+1 >= len(runes) {
			continue
		}
		// 数字中的小数点与已有空格不处理
		next := runes[i+1]
		if unicode.IsLetter(next) {
			b.WriteRune(' ')
		}
	}

	out := abbreviationPattern.ReplaceAllStringFunc(b.String(), func(m string) string {
		word := strings.TrimSuffix(m, ".")
		// 展开结果自带句点，吞掉紧随的句点
		return abbreviations[word]
	})
	return out
}
