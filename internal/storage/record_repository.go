// Package storage persists extracted records in a local sqlite database keyed
// by profile URL, which is what makes interrupted runs resumable.
package storage

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ahmedxxzz/doctoralia-scraper/config"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/model"
	_ "modernc.org/sqlite"
)

const dbFileName = "doctors.db"

// RecordStorage is the durable dedup store. Commit is idempotent on the
// record's SourceReference; the bool result reports whether the record was
// newly inserted.
type RecordStorage interface {
	Contains(ref model.Reference) bool
	Commit(rec *model.Record) (bool, error)
	ExistingReferences() (map[model.Reference]struct{}, error)
	Count() (int, error)
	ExportCSV(path string) error
	Close() error
}

type SqliteStorage struct {
	db *sql.DB
}

func New(cfg *config.DatabaseConfig) (*SqliteStorage, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		filepath.Join(cfg.Dir, dbFileName))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &SqliteStorage{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqliteStorage) createTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS doctors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			title TEXT,
			category TEXT NOT NULL,
			location TEXT NOT NULL,
			sub_specialties TEXT,
			diseases_treated TEXT,
			services TEXT,
			phone TEXT,
			email TEXT,
			website TEXT,
			street TEXT,
			city TEXT,
			postal_code TEXT,
			latitude REAL,
			longitude REAL,
			clinic_name TEXT,
			all_addresses TEXT,
			experience_years INTEGER,
			education TEXT,
			languages TEXT,
			insurance_accepted TEXT,
			rating REAL,
			review_count INTEGER,
			consultation_price TEXT,
			online_consultation_price TEXT,
			offers_online_consultation INTEGER,
			scraped_at TEXT,
			profile_url TEXT NOT NULL UNIQUE
		);
		CREATE INDEX IF NOT EXISTS idx_doctors_category ON doctors(category);
		CREATE INDEX IF NOT EXISTS idx_doctors_location ON doctors(location);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Contains reports whether a profile reference is already persisted. Errors
// degrade to "not seen" so a read glitch costs a re-fetch, never a lost
// record.
func (s *SqliteStorage) Contains(ref model.Reference) bool {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM doctors WHERE profile_url = ?`, string(ref)).Scan(&one)
	return err == nil
}

// Commit upserts the record keyed by its SourceReference and returns true
// when a new row was created. A re-crawl of a known profile refreshes the
// stored copy in place.
func (s *SqliteStorage) Commit(rec *model.Record) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRow(`SELECT 1 FROM doctors WHERE profile_url = ?`, string(rec.SourceReference)).Scan(&one)
	exists := err == nil
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("check existing record: %w", err)
	}

	addr := rec.PrimaryAddress()
	_, err = tx.Exec(`
		INSERT INTO doctors (
			name, title, category, location, sub_specialties, diseases_treated,
			services, phone, email, website, street, city, postal_code,
			latitude, longitude, clinic_name, all_addresses, experience_years,
			education, languages, insurance_accepted, rating, review_count,
			consultation_price, online_consultation_price,
			offers_online_consultation, scraped_at, profile_url
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_url) DO UPDATE SET
			name = excluded.name,
			title = excluded.title,
			category = excluded.category,
			location = excluded.location,
			sub_specialties = excluded.sub_specialties,
			diseases_treated = excluded.diseases_treated,
			services = excluded.services,
			phone = excluded.phone,
			email = excluded.email,
			website = excluded.website,
			street = excluded.street,
			city = excluded.city,
			postal_code = excluded.postal_code,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			clinic_name = excluded.clinic_name,
			all_addresses = excluded.all_addresses,
			experience_years = excluded.experience_years,
			education = excluded.education,
			languages = excluded.languages,
			insurance_accepted = excluded.insurance_accepted,
			rating = excluded.rating,
			review_count = excluded.review_count,
			consultation_price = excluded.consultation_price,
			online_consultation_price = excluded.online_consultation_price,
			offers_online_consultation = excluded.offers_online_consultation,
			scraped_at = excluded.scraped_at`,
		rec.Name, rec.Title, rec.Category, rec.Location,
		model.JoinList(rec.SubSpecialties), model.JoinList(rec.DiseasesTreated),
		model.JoinList(rec.Services), rec.Contact.Phone, rec.Contact.Email,
		rec.Contact.Website, addr.Street, addr.City, addr.PostalCode,
		addr.Latitude, addr.Longitude, addr.ClinicName, rec.AllAddresses(),
		rec.ExperienceYears, model.JoinList(rec.Education),
		model.JoinList(rec.Languages), model.JoinList(rec.InsuranceAccepted),
		rec.Rating, rec.ReviewCount, rec.ConsultationPrice,
		rec.OnlineConsultationPrice, boolToInt(rec.OffersOnlineConsult),
		rec.ScrapedAt, string(rec.SourceReference))
	if err != nil {
		return false, fmt.Errorf("upsert record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit record tx: %w", err)
	}
	return !exists, nil
}

// ExistingReferences loads every persisted profile URL, used at startup to
// warm the seen cache so a resumed run skips already-captured profiles.
func (s *SqliteStorage) ExistingReferences() (map[model.Reference]struct{}, error) {
	rows, err := s.db.Query(`SELECT profile_url FROM doctors`)
	if err != nil {
		return nil, fmt.Errorf("query existing references: %w", err)
	}
	defer rows.Close()

	refs := make(map[model.Reference]struct{})
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		refs[model.Reference(ref)] = struct{}{}
	}
	return refs, rows.Err()
}

func (s *SqliteStorage) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM doctors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

var csvHeader = []string{
	"name", "title", "category", "location", "sub_specialties",
	"diseases_treated", "services", "phone", "email", "website", "street",
	"city", "postal_code", "latitude", "longitude", "clinic_name",
	"all_addresses", "experience_years", "education", "languages",
	"insurance_accepted", "rating", "review_count", "consultation_price",
	"online_consultation_price", "offers_online_consultation", "scraped_at",
	"profile_url",
}

// ExportCSV writes the full table to path, one row per record.
func (s *SqliteStorage) ExportCSV(path string) error {
	rows, err := s.db.Query(`
		SELECT name, title, category, location, sub_specialties,
		       diseases_treated, services, phone, email, website, street,
		       city, postal_code, latitude, longitude, clinic_name,
		       all_addresses, experience_years, education, languages,
		       insurance_accepted, rating, review_count, consultation_price,
		       online_consultation_price, offers_online_consultation,
		       scraped_at, profile_url
		FROM doctors ORDER BY category, location, name`)
	if err != nil {
		return fmt.Errorf("query records for export: %w", err)
	}
	defer rows.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for rows.Next() {
		var (
			strCols                     [13]string
			lat, lng, rating            float64
			clinic, allAddrs, education string
			languages, insurance        string
			expYears, reviews, online   int
			prices                      [2]string
			scrapedAt, profileURL       string
		)
		if err := rows.Scan(
			&strCols[0], &strCols[1], &strCols[2], &strCols[3], &strCols[4],
			&strCols[5], &strCols[6], &strCols[7], &strCols[8], &strCols[9],
			&strCols[10], &strCols[11], &strCols[12], &lat, &lng, &clinic,
			&allAddrs, &expYears, &education, &languages, &insurance, &rating,
			&reviews, &prices[0], &prices[1], &online, &scrapedAt, &profileURL,
		); err != nil {
			return fmt.Errorf("scan record for export: %w", err)
		}

		row := append([]string{}, strCols[:]...)
		row = append(row,
			strconv.FormatFloat(lat, 'f', -1, 64),
			strconv.FormatFloat(lng, 'f', -1, 64),
			clinic, allAddrs, strconv.Itoa(expYears), education, languages,
			insurance, strconv.FormatFloat(rating, 'f', -1, 64),
			strconv.Itoa(reviews), prices[0], prices[1],
			strconv.Itoa(online), scrapedAt, profileURL)
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate records for export: %w", err)
	}

	w.Flush()
	return w.Error()
}

func (s *SqliteStorage) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
