package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/model"
	jsoniter "github.com/json-iterator/go"
)

const (
	maxDiseases  = 20
	maxServices  = 30
	maxEducation = 10
	maxInsurance = 20
)

var (
	namePrefixRe    = regexp.MustCompile(`^(Dr\.|Dra\.|Dr |Dra )\s*`)
	experienceRe    = regexp.MustCompile(`(\d+)\s*años de experiencia`)
	reviewCountRe   = regexp.MustCompile(`(\d+)\s*opiniones`)
	priceRe         = regexp.MustCompile(`(\d+)\s*€`)
	educationHeadRe = regexp.MustCompile(`(?i)formaci[oó]n|educaci[oó]n|estudios`)
	diseasesHeadRe  = regexp.MustCompile(`(?i)enfermedades tratadas|enfermedades`)
	languagesHeadRe = regexp.MustCompile(`(?i)idiomas`)
	onlinePriceRe   = regexp.MustCompile(`(?i)consulta online`)
	whitespaceRunRe = regexp.MustCompile(`\s+`)
)

var knownLanguages = []string{
	"Español", "Inglés", "Catalán", "Francés", "Alemán", "Italiano",
	"Portugués", "Gallego", "Euskera", "Árabe", "Chino", "Ruso", "Rumano",
}

var onlineConsultMarkers = []string{
	"consulta online", "videoconsulta", "consulta por video", "telemedicina",
}

// DoctoraliaProfileParser extracts one practitioner Record from a profile
// page.
type DoctoraliaProfileParser struct{}

func NewProfileParser() *DoctoraliaProfileParser {
	return &DoctoraliaProfileParser{}
}

// ParseProfile returns (nil, nil) when the page does not look like a profile
// at all, which happens on consent interstitials and redirects to the home
// page. Missing individual fields are left zero-valued.
func (p *DoctoraliaProfileParser) ParseProfile(body string, ref model.Reference, category, location string) (*model.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse profile html: %w", err)
	}

	name, title := extractName(doc)
	if name == "" {
		return nil, nil
	}

	rec := &model.Record{
		Name:            name,
		Title:           title,
		Category:        category,
		Location:        location,
		SubSpecialties:  extractSubSpecialties(doc),
		DiseasesTreated: extractSectionItems(doc, diseasesHeadRe, maxDiseases),
		Services:        extractServices(doc),
		Contact:         extractContact(doc),
		Addresses:       extractAddresses(doc),
		Education:       extractSectionItems(doc, educationHeadRe, maxEducation),
		Languages:       extractLanguages(doc),
		InsuranceAccepted: truncate(selectTexts(doc, []string{
			`[data-test-id="insurance-list"] li`,
			`.insurance-list li`,
			`[data-id="insurances"] li`,
		}), maxInsurance),
		Rating:              extractRating(doc),
		ReviewCount:         extractReviewCount(doc),
		OffersOnlineConsult: offersOnlineConsult(doc),
		ScrapedAt:           time.Now().UTC().Format(time.RFC3339),
		SourceReference:     ref,
	}
	rec.ExperienceYears = firstIntMatch(doc.Text(), experienceRe)
	rec.ConsultationPrice, rec.OnlineConsultationPrice = extractPrices(doc)
	return rec, nil
}

// extractName walks the heading chain, falling back to JSON-LD, and splits
// the honorific off the front.
func extractName(doc *goquery.Document) (name, title string) {
	selectors := []string{
		`h1[itemprop="name"]`,
		`[data-test-id="doctor-name"]`,
		`h1.unified-doctor-header-info__name`,
		`h1 span[itemprop="name"]`,
		`h1`,
	}
	raw := ""
	for _, selector := range selectors {
		raw = cleanText(doc.Find(selector).First().Text())
		if raw != "" {
			break
		}
	}
	if raw == "" {
		raw = nameFromJSONLD(doc)
	}
	if raw == "" {
		return "", ""
	}
	if m := namePrefixRe.FindString(raw); m != "" {
		title = strings.TrimSpace(strings.TrimSuffix(m, " "))
		raw = strings.TrimSpace(namePrefixRe.ReplaceAllString(raw, ""))
	}
	return raw, title
}

func nameFromJSONLD(doc *goquery.Document) string {
	var name string
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var payload struct {
			Type string `json:"@type"`
			Name string `json:"name"`
		}
		if err := jsoniter.UnmarshalFromString(sel.Text(), &payload); err != nil {
			return true
		}
		if payload.Name != "" && (payload.Type == "Physician" || payload.Type == "Person" || payload.Type == "MedicalBusiness") {
			name = cleanText(payload.Name)
			return false
		}
		return true
	})
	return name
}

func extractSubSpecialties(doc *goquery.Document) []string {
	return selectTexts(doc, []string{
		`[data-test-id="doctor-specializations"] a`,
		`.unified-doctor-header-info__specialization a`,
		`span[itemprop="medicalSpecialty"]`,
		`.doctor-specializations li`,
	})
}

func extractServices(doc *goquery.Document) []string {
	return truncate(selectTexts(doc, []string{
		`[data-test-id="services-list"] li`,
		`[data-id="services"] li`,
		`.services-list li`,
		`li[itemprop="availableService"]`,
	}), maxServices)
}

// extractSectionItems locates a section by its heading text and pulls the
// list items or short paragraphs under the enclosing container.
func extractSectionItems(doc *goquery.Document, headRe *regexp.Regexp, limit int) []string {
	var items []string
	doc.Find("h2, h3, h4, h5, strong").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !headRe.MatchString(sel.Text()) {
			return true
		}
		container := sel.Closest("div, section")
		if container.Length() == 0 {
			return true
		}
		container.Find("li, p").Each(func(_ int, item *goquery.Selection) {
			text := cleanText(item.Text())
			if text != "" && !headRe.MatchString(text) && len(text) < 200 {
				items = append(items, text)
			}
		})
		return len(items) == 0
	})
	return truncate(dedupe(items), limit)
}

func extractLanguages(doc *goquery.Document) []string {
	var scope string
	doc.Find("h2, h3, h4, h5, strong").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !languagesHeadRe.MatchString(sel.Text()) {
			return true
		}
		scope = sel.Closest("div, section, li").Text()
		return scope == ""
	})
	if scope == "" {
		scope = doc.Find(`[data-test-id="languages"]`).Text()
	}
	if scope == "" {
		return nil
	}

	var langs []string
	for _, lang := range knownLanguages {
		if strings.Contains(scope, lang) {
			langs = append(langs, lang)
		}
	}
	return langs
}

func extractContact(doc *goquery.Document) model.Contact {
	var c model.Contact
	doc.Find(`a[href^="tel:"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		c.Phone = cleanText(strings.TrimPrefix(href, "tel:"))
		return c.Phone == ""
	})
	doc.Find(`a[href^="mailto:"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		c.Email = cleanText(strings.TrimPrefix(href, "mailto:"))
		return c.Email == ""
	})
	doc.Find(`a[itemprop="url"], a[data-test-id="doctor-website"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		if href != "" && !strings.Contains(href, "doctoralia") {
			c.Website = href
			return false
		}
		return true
	})
	return c
}

var mapCoordsRe = regexp.MustCompile(`[@=](-?\d+\.\d+),(-?\d+\.\d+)`)

func extractAddresses(doc *goquery.Document) []model.Address {
	var addrs []model.Address
	doc.Find(`[itemprop="address"], .address, [data-test-id="address"]`).Each(func(_ int, sel *goquery.Selection) {
		addr := model.Address{
			Street:     cleanText(sel.Find(`[itemprop="streetAddress"], .street`).First().Text()),
			City:       cleanText(sel.Find(`[itemprop="addressLocality"], .city`).First().Text()),
			PostalCode: cleanText(sel.Find(`[itemprop="postalCode"], .postal-code`).First().Text()),
			ClinicName: cleanText(sel.Find(`[itemprop="name"], .clinic-name`).First().Text()),
		}
		if addr.Street == "" && addr.ClinicName == "" {
			full := cleanText(sel.Text())
			if full == "" || len(full) > 300 {
				return
			}
			addr.Street = full
		}
		if href, ok := sel.Find(`a[href*="maps"]`).First().Attr("href"); ok {
			if m := mapCoordsRe.FindStringSubmatch(href); m != nil {
				addr.Latitude, _ = strconv.ParseFloat(m[1], 64)
				addr.Longitude, _ = strconv.ParseFloat(m[2], 64)
			}
		}
		addrs = append(addrs, addr)
	})
	return addrs
}

// extractRating reads the aggregate score, accepting the Spanish decimal
// comma.
func extractRating(doc *goquery.Document) float64 {
	selectors := []string{
		`[itemprop="ratingValue"]`,
		`[data-test-id="rating-value"]`,
		`.rating-value`,
	}
	for _, selector := range selectors {
		sel := doc.Find(selector).First()
		raw, ok := sel.Attr("content")
		if !ok {
			raw = sel.Text()
		}
		raw = strings.ReplaceAll(cleanText(raw), ",", ".")
		if raw == "" {
			continue
		}
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return 0
}

func extractReviewCount(doc *goquery.Document) int {
	selectors := []string{
		`[itemprop="reviewCount"]`,
		`[data-test-id="reviews-count"]`,
	}
	for _, selector := range selectors {
		sel := doc.Find(selector).First()
		raw, ok := sel.Attr("content")
		if !ok {
			raw = sel.Text()
		}
		if n := firstInt(raw); n > 0 {
			return n
		}
	}
	return firstIntMatch(doc.Text(), reviewCountRe)
}

// extractPrices reads the in-person fee from the fee selectors and the online
// fee from the row mentioning "consulta online".
func extractPrices(doc *goquery.Document) (consultation, online string) {
	selectors := []string{
		`[data-test-id="service-price"]`,
		`.service-price`,
		`[itemprop="priceRange"]`,
	}
	for _, selector := range selectors {
		text := cleanText(doc.Find(selector).First().Text())
		if m := priceRe.FindStringSubmatch(text); m != nil {
			consultation = m[1] + " €"
			break
		}
	}
	if consultation == "" {
		if m := priceRe.FindStringSubmatch(doc.Text()); m != nil {
			consultation = m[1] + " €"
		}
	}

	doc.Find("li, tr, div").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := sel.Text()
		if len(text) > 300 || !onlinePriceRe.MatchString(text) {
			return true
		}
		if m := priceRe.FindStringSubmatch(text); m != nil {
			online = m[1] + " €"
			return false
		}
		return true
	})
	return consultation, online
}

func offersOnlineConsult(doc *goquery.Document) bool {
	pageText := strings.ToLower(doc.Text())
	for _, marker := range onlineConsultMarkers {
		if strings.Contains(pageText, marker) {
			return true
		}
	}
	return false
}

func selectTexts(doc *goquery.Document, selectors []string) []string {
	for _, selector := range selectors {
		var out []string
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			if text := cleanText(sel.Text()); text != "" {
				out = append(out, text)
			}
		})
		if len(out) > 0 {
			return dedupe(out)
		}
	}
	return nil
}

func cleanText(s string) string {
	return strings.TrimSpace(whitespaceRunRe.ReplaceAllString(s, " "))
}

func firstInt(s string) int {
	n, _ := strconv.Atoi(cleanText(s))
	return n
}

func firstIntMatch(text string, re *regexp.Regexp) int {
	if m := re.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, item := range items {
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func truncate(items []string, limit int) []string {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
