package blog

import (
	"sort"
	"strings"
	"unicode"
)

var stopWords = map[string]bool{}

func init() {
	for _, w := range strings.Fields(`a about above after again against all also am an and any are as at be
		because been before being below between both but by can could did do does doing down during each
		few for from further get got had has have having he her here hers herself him himself his how i if
		in into is it its itself just like make many me more most much must my myself new no nor not now of
		off on once one only or other our ours ourselves out over own per same she should so some such than
		that the their theirs them themselves then there these they this those through to too under until
		up us very was we well were what when where which while who whom why will with would you your
		yours yourself yourselves`) {
		stopWords[w] = true
	}
}

// ExtractKeywords returns up to n terms ranked by frequency, ignoring stop
// words, numbers and words shorter than three letters. Ties keep first
// appearance order.
func ExtractKeywords(text string, n int) []string {
	if n <= 0 {
		return nil
	}
	counts := map[string]int{}
	first := map[string]int{}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	for i, w := range words {
		w = strings.Trim(w, "'")
		if len([]rune(w)) < 3 || stopWords[w] || isNumber(w) {
			continue
		}
		if _, seen := first[w]; !seen {
			first[w] = i
		}
		counts[w]++
	}

	terms := make([]string, 0, len(counts))
	for w := range counts {
		terms = append(terms, w)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return first[terms[i]] < first[terms[j]]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

func isNumber(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// excerpt strips markdown markers and returns the first max runes of text.
func excerpt(md string, max int) string {
	var lines []string
	for _, line := range strings.Split(md, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "![") {
			continue
		}
		line = strings.TrimLeft(line, "-*> ")
		lines = append(lines, line)
	}
	text := strings.NewReplacer("**", "", "__", "", "`", "").Replace(strings.Join(lines, " "))
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	cut := string(runes[:max])
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "…"
}
