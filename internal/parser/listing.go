// Package parser turns listing and profile markup into structured results.
// Every field is extracted through an ordered chain of selector strategies
// tried in sequence until one yields a non-empty value; the site has shipped
// several markup generations and the chains keep old and new variants alive
// side by side.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/model"
)

// ListingParser extracts profile references and pagination from one listing
// page.
type ListingParser interface {
	ParseListing(body, baseURL string) (*model.ListingResult, error)
}

// ProfileParser builds a Record from one profile page. A nil Record with a
// nil error signals an unparseable page, which callers treat as a soft
// failure.
type ProfileParser interface {
	ParseProfile(body string, ref model.Reference, category, location string) (*model.Record, error)
}

// URL path patterns that are never profile pages: site sections, pagination
// suffixes, insurance and district filters.
var excludePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/clinicas`),
	regexp.MustCompile(`/\d+$`),
	regexp.MustCompile(`(?i)/aseguradoras`),
	regexp.MustCompile(`(?i)/especialidades`),
	regexp.MustCompile(`(?i)/tratamientos`),
	regexp.MustCompile(`(?i)/enfermedades`),
	regexp.MustCompile(`(?i)/preguntas`),
	regexp.MustCompile(`(?i)/medicamentos`),
	regexp.MustCompile(`(?i)/faq`),
	regexp.MustCompile(`(?i)/blog`),
	regexp.MustCompile(`(?i)/app`),
	regexp.MustCompile(`(?i)/contacto`),
	regexp.MustCompile(`(?i)/privacidad`),
	regexp.MustCompile(`#`),
	regexp.MustCompile(`\?`),
	regexp.MustCompile(`(?i)/adeslas$`),
	regexp.MustCompile(`(?i)/asisa$`),
	regexp.MustCompile(`(?i)/sanitas$`),
	regexp.MustCompile(`(?i)/dkv-seguros$`),
	regexp.MustCompile(`(?i)/mapfre`),
	regexp.MustCompile(`(?i)/aegon`),
	regexp.MustCompile(`(?i)/axa`),
	regexp.MustCompile(`(?i)/caser`),
	regexp.MustCompile(`(?i)/cigna`),
	regexp.MustCompile(`(?i)/fiatc`),
	regexp.MustCompile(`(?i)/generali`),
	regexp.MustCompile(`(?i)/mutua`),
	regexp.MustCompile(`(?i)/nectar`),
	regexp.MustCompile(`(?i)/online$`),
	regexp.MustCompile(`(?i)/municipality-`),
	regexp.MustCompile(`(?i)/distrito-`),
	regexp.MustCompile(`(?i)/chamberi$`),
	regexp.MustCompile(`(?i)/centro$`),
	regexp.MustCompile(`(?i)/chamartin$`),
	regexp.MustCompile(`(?i)/retiro$`),
}

var specialtyPrefixes = []string{"medico-", "cirujano-", "especialista-", "clinica-", "centro-"}

var noResultsMarkers = []string{
	"no hemos encontrado",
	"sin resultados",
	"0 resultados",
	"no hay especialistas",
}

var pageSuffixRe = regexp.MustCompile(`/(\d+)$`)

// DoctoraliaListingParser parses result pages for one category×location
// pair.
type DoctoraliaListingParser struct{}

func NewListingParser() *DoctoraliaListingParser {
	return &DoctoraliaListingParser{}
}

func (p *DoctoraliaListingParser) ParseListing(body, baseURL string) (*model.ListingResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	refs := profileReferences(doc, baseURL)
	next := nextPageRef(doc, baseURL)
	return &model.ListingResult{
		References:  refs,
		NextPageRef: next,
		HasResults:  hasResults(doc, refs, next),
	}, nil
}

// profileReferences collects profile links, preferring the h3 card links and
// falling back to a full anchor sweep, deduplicated in discovery order.
func profileReferences(doc *goquery.Document, baseURL string) []model.Reference {
	seen := make(map[string]struct{})
	var refs []model.Reference

	collect := func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" || !isProfileURL(href, baseURL) {
			return
		}
		full := absoluteURL(href, baseURL)
		if _, dup := seen[full]; dup {
			return
		}
		seen[full] = struct{}{}
		refs = append(refs, model.Reference(full))
	}

	doc.Find("h3 a[href]").Each(collect)
	doc.Find("a[href]").Each(collect)
	return refs
}

// isProfileURL applies the path heuristics: exactly three segments
// (name/specialty/city), a hyphenated person-name first segment, and none of
// the known non-profile patterns.
func isProfileURL(href, baseURL string) bool {
	for _, re := range excludePatterns {
		if re.MatchString(href) {
			return false
		}
	}

	path := strings.TrimPrefix(href, baseURL)
	path = strings.Trim(path, "/")
	if i := strings.IndexAny(path, "#?"); i >= 0 {
		path = path[:i]
	}

	segments := strings.Split(path, "/")
	var parts []string
	for _, s := range segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) != 3 {
		return false
	}

	name, specialty := parts[0], parts[1]
	if !strings.Contains(name, "-") {
		return false
	}
	for _, prefix := range specialtyPrefixes {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}
	switch specialty {
	case "clinicas", "enfermedades", "tratamientos":
		return false
	}
	return true
}

// nextPageRef walks the pagination selector chain, falling back to links
// whose class mentions paging and whose href ends in a page number.
func nextPageRef(doc *goquery.Document, baseURL string) string {
	selectors := []string{
		`a[rel="next"]`,
		`a.pagination-next`,
		`a[aria-label*="siguiente"]`,
		`a[aria-label*="Siguiente"]`,
		`nav[aria-label="pagination"] a:last-child`,
	}
	for _, selector := range selectors {
		if href, ok := doc.Find(selector).First().Attr("href"); ok && href != "" {
			return absoluteURL(href, baseURL)
		}
	}

	var next string
	doc.Find(`a[href*="/"][class*="page"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		if m := pageSuffixRe.FindStringSubmatch(href); m != nil && m[1] != "1" {
			next = absoluteURL(href, baseURL)
			return false
		}
		return true
	})
	return next
}

// hasResults is false only on an explicit no-results page. A page with no
// recognizable profile links but a next-page link still counts: the branch
// keeps following pagination rather than terminating on one odd page.
func hasResults(doc *goquery.Document, refs []model.Reference, next string) bool {
	pageText := strings.ToLower(doc.Text())
	for _, marker := range noResultsMarkers {
		if strings.Contains(pageText, marker) {
			return false
		}
	}
	return len(refs) > 0 || next != ""
}

func absoluteURL(href, baseURL string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	return baseURL + href
}
