package extractors

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	priceRe  = regexp.MustCompile(`[0-9][0-9,.]*`)
	digitsRe = regexp.MustCompile(`[0-9][0-9,]*`)
	rankRe   = regexp.MustCompile(`#?([0-9][0-9,]*)\s+in\s+`)
	ratingRe = regexp.MustCompile(`([0-5](?:\.[0-9])?)`)
)

// parsePrice pulls the first monetary amount out of text. Currency symbols
// and grouping separators are stripped, including Indian lakh grouping
// ("1,23,456"). Returns 0 when no amount is present.
func parsePrice(text string) float64 {
	m := priceRe.FindString(text)
	if m == "" {
		return 0
	}
	// The last separator followed by at most two digits is the decimal
	// mark; everything else is grouping. This covers "1,234.56", Indian
	// lakh grouping "1,23,456" and European "1.234,56" alike.
	lastDot := strings.LastIndex(m, ".")
	lastComma := strings.LastIndex(m, ",")
	sep := -1
	if lastDot > lastComma {
		sep = lastDot
	} else {
		sep = lastComma
	}
	var intPart, fracPart string
	if sep != -1 && len(m)-sep-1 <= 2 {
		intPart, fracPart = m[:sep], m[sep+1:]
	} else {
		intPart, fracPart = m, ""
	}
	intPart = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, intPart)
	if intPart == "" {
		intPart = "0"
	}
	s := intPart
	if fracPart != "" {
		s += "." + fracPart
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseCount pulls the first grouped integer out of text ("1,234 ratings").
func parseCount(text string) int {
	m := digitsRe.FindString(text)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0
	}
	return n
}

// parseRank reads a sales rank out of "#1,234 in Electronics"-style text.
func parseRank(text string) int {
	m := rankRe.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return 0
	}
	return n
}

// parseRating reads a star rating from text like "4.3 out of 5 stars".
func parseRating(text string) float64 {
	m := ratingRe.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0
	}
	v, _ := strconv.ParseFloat(m[1], 64)
	if v > 5 {
		return 0
	}
	return v
}

// firstText returns the trimmed text of the first selector that matches.
func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if s := strings.TrimSpace(doc.Find(sel).First().Text()); s != "" {
			return s
		}
	}
	return ""
}

// firstAttr returns the named attribute of the first selector that matches.
func firstAttr(doc *goquery.Document, attr string, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
