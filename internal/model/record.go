package model

import (
	"fmt"
	"strings"
)

// Reference is the canonical identifier of a profile page (its absolute
// URL). Two references pointing at the same profile compare equal, which
// makes it the dedup key across runs.
type Reference string

// Task is one unit of queued crawl work: a single listing page for a
// (category, location) pair. PageRef, when set, is the exact URL discovered
// by pagination and takes precedence over the constructed page URL.
type Task struct {
	Category   string `json:"category"`
	Location   string `json:"location"`
	Page       int    `json:"page"`
	PageRef    string `json:"page_ref,omitempty"`
	RetryCount int    `json:"retry_count"`
}

func (t *Task) URL(baseURL string) string {
	if t.PageRef != "" {
		return t.PageRef
	}
	if t.Page <= 1 {
		return fmt.Sprintf("%s/%s/%s", baseURL, t.Category, t.Location)
	}
	return fmt.Sprintf("%s/%s/%s/%d", baseURL, t.Category, t.Location, t.Page)
}

// ListingResult is what the listing parser extracts from one result page.
type ListingResult struct {
	References  []Reference
	NextPageRef string
	HasResults  bool
}

type Address struct {
	Street     string  `json:"street,omitempty"`
	City       string  `json:"city,omitempty"`
	PostalCode string  `json:"postal_code,omitempty"`
	Province   string  `json:"province,omitempty"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
	ClinicName string  `json:"clinic_name,omitempty"`
}

type Contact struct {
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Website string `json:"website,omitempty"`
}

// Record is the final structured entity extracted from one profile page.
// Immutable once constructed; the storage layer owns the durable copy after
// Commit.
type Record struct {
	Name                    string    `json:"name"`
	Title                   string    `json:"title,omitempty"`
	Category                string    `json:"category"`
	Location                string    `json:"location"`
	SubSpecialties          []string  `json:"sub_specialties,omitempty"`
	DiseasesTreated         []string  `json:"diseases_treated,omitempty"`
	Services                []string  `json:"services,omitempty"`
	Contact                 Contact   `json:"contact"`
	Addresses               []Address `json:"addresses,omitempty"`
	ExperienceYears         int       `json:"experience_years,omitempty"`
	Education               []string  `json:"education,omitempty"`
	Languages               []string  `json:"languages,omitempty"`
	InsuranceAccepted       []string  `json:"insurance_accepted,omitempty"`
	Rating                  float64   `json:"rating,omitempty"`
	ReviewCount             int       `json:"review_count,omitempty"`
	ConsultationPrice       string    `json:"consultation_price,omitempty"`
	OnlineConsultationPrice string    `json:"online_consultation_price,omitempty"`
	OffersOnlineConsult     bool      `json:"offers_online_consultation"`
	ScrapedAt               string    `json:"scraped_at"`
	SourceReference         Reference `json:"source_reference"`
}

// JoinList flattens a free-text collection for single-column storage.
func JoinList(items []string) string {
	return strings.Join(items, "|")
}

// SplitList is the inverse of JoinList.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "|")
}

// PrimaryAddress returns the first address, or a zero value when none were
// extracted.
func (r *Record) PrimaryAddress() Address {
	if len(r.Addresses) == 0 {
		return Address{}
	}
	return r.Addresses[0]
}

// AllAddresses flattens every address into one exportable column.
func (r *Record) AllAddresses() string {
	parts := make([]string, 0, len(r.Addresses))
	for _, a := range r.Addresses {
		parts = append(parts, fmt.Sprintf("%s: %s, %s", a.ClinicName, a.Street, a.City))
	}
	return strings.Join(parts, "|")
}
