// Package parser extracts product fields from raw page markup using a
// per-site selector table. It performs no I/O.
package parser

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricewatch/internal/domain"
)

// Page holds the fields extracted from one product page. Empty strings and a
// nil Price mean the field could not be extracted.
type Page struct {
	Name     string
	Price    *float64
	ImageURL string
}

// Empty reports whether nothing usable was extracted.
func (p Page) Empty() bool {
	return p.Price == nil && (p.Name == "" || p.Name == domain.UnknownProductName) && p.ImageURL == ""
}

// extractor returns a field value from a document, or "" when it finds none.
type extractor func(doc *goquery.Document) string

// Parser is a table-driven product page parser.
type Parser struct {
	sites map[string]SiteRules
}

// New creates a parser over the given selector table. The table is not
// modified after construction.
func New(sites map[string]SiteRules) *Parser {
	if sites == nil {
		sites = DefaultSites()
	}
	return &Parser{sites: sites}
}

// Parse extracts name, price and image from markup for the given site.
// Missing fields stay empty; Parse never fails.
func (p *Parser) Parse(markup, siteID string) Page {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return Page{}
	}
	site := p.sites[siteID]

	page := Page{
		Name: firstNonEmpty(doc,
			textRules(site.Title),
			textRules(genericRules.Title),
			func(*goquery.Document) string { return domain.UnknownProductName },
		),
		ImageURL: firstNonEmpty(doc,
			textRules(site.Image),
			textRules(genericRules.Image),
		),
	}
	if price, ok := firstPrice(doc, site.Price, genericRules.Price); ok {
		page.Price = &price
	}
	return page
}

// firstNonEmpty runs extractors in order; the first non-empty result wins.
func firstNonEmpty(doc *goquery.Document, chain ...extractor) string {
	for _, extract := range chain {
		if v := extract(doc); v != "" {
			return v
		}
	}
	return ""
}

func textRules(rules []Rule) extractor {
	return func(doc *goquery.Document) string {
		for _, r := range rules {
			if v := r.value(doc); v != "" {
				return v
			}
		}
		return ""
	}
}

// firstPrice tries each rule list in order. A rule only matches if its text
// normalizes to a positive number.
func firstPrice(doc *goquery.Document, ruleSets ...[]Rule) (float64, bool) {
	for _, rules := range ruleSets {
		for _, r := range rules {
			if price, ok := NormalizePrice(r.value(doc)); ok {
				return price, true
			}
		}
	}
	return 0, false
}

func (r Rule) value(doc *goquery.Document) string {
	if r.Selector == "" {
		return ""
	}
	sel := doc.Find(r.Selector).First()
	if sel.Length() == 0 {
		return ""
	}
	if r.Attr == "" {
		return strings.Join(strings.Fields(sel.Text()), " ")
	}
	v, _ := sel.Attr(r.Attr)
	return strings.Join(strings.Fields(v), " ")
}

// NormalizePrice keeps only digits and '.' from text and parses the result.
// Leading and trailing dots left over from currency labels ("Rs.") are
// trimmed. Text with more than one decimal point does not parse.
func NormalizePrice(text string) (float64, bool) {
	var b strings.Builder
	for _, c := range text {
		if (c >= '0' && c <= '9') || c == '.' {
			b.WriteRune(c)
		}
	}
	cleaned := strings.Trim(b.String(), ".")
	if cleaned == "" || strings.Count(cleaned, ".") > 1 {
		return 0, false
	}
	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}
