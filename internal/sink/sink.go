// Package sink streams committed records out of the process as they are
// scraped, independently of the database. Losing a sink write never loses
// data, the database still holds the record.
package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ahmedxxzz/doctoralia-scraper/internal/model"
	jsoniter "github.com/json-iterator/go"
)

// Sink receives each record exactly once, right after it is committed.
type Sink interface {
	Write(rec *model.Record) error
	Close() error
}

var csvHeader = []string{
	"name", "title", "category", "location", "sub_specialties",
	"diseases_treated", "services", "phone", "email", "website",
	"addresses", "experience_years", "education", "languages",
	"insurance_accepted", "rating", "review_count", "consultation_price",
	"online_consultation_price", "offers_online_consultation", "scraped_at",
	"profile_url",
}

// CsvSink appends records to a timestamped CSV file in the output
// directory.
type CsvSink struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

func NewCsvSink(outputDir string) (*CsvSink, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	name := fmt.Sprintf("doctors_%s.csv", time.Now().Format("20060102_150405"))
	f, err := os.Create(filepath.Join(outputDir, name))
	if err != nil {
		return nil, fmt.Errorf("create csv sink file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv sink header: %w", err)
	}
	return &CsvSink{file: f, w: w}, nil
}

func (s *CsvSink) Write(rec *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := []string{
		rec.Name, rec.Title, rec.Category, rec.Location,
		model.JoinList(rec.SubSpecialties), model.JoinList(rec.DiseasesTreated),
		model.JoinList(rec.Services), rec.Contact.Phone, rec.Contact.Email,
		rec.Contact.Website, rec.AllAddresses(),
		strconv.Itoa(rec.ExperienceYears), model.JoinList(rec.Education),
		model.JoinList(rec.Languages), model.JoinList(rec.InsuranceAccepted),
		strconv.FormatFloat(rec.Rating, 'f', -1, 64),
		strconv.Itoa(rec.ReviewCount), rec.ConsultationPrice,
		rec.OnlineConsultationPrice, strconv.FormatBool(rec.OffersOnlineConsult),
		rec.ScrapedAt, string(rec.SourceReference),
	}
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CsvSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// JsonlSink appends one JSON document per line to a timestamped file.
type JsonlSink struct {
	mu   sync.Mutex
	file *os.File
}

func NewJsonlSink(outputDir string) (*JsonlSink, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	name := fmt.Sprintf("doctors_%s.jsonl", time.Now().Format("20060102_150405"))
	f, err := os.Create(filepath.Join(outputDir, name))
	if err != nil {
		return nil, fmt.Errorf("create jsonl sink file: %w", err)
	}
	return &JsonlSink{file: f}, nil
}

func (s *JsonlSink) Write(rec *model.Record) error {
	doc, err := jsoniter.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(doc, '\n')); err != nil {
		return fmt.Errorf("write jsonl row: %w", err)
	}
	return nil
}

func (s *JsonlSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
