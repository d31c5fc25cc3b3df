package stats

import (
	"fmt"
	"sync/atomic"
)

// CrawlStats holds the monotonically increasing counters for one crawl run.
// All increments are atomic so a snapshot never blocks a worker.
type CrawlStats struct {
	pagesFetched atomic.Int64
	recordsFound atomic.Int64
	recordsSaved atomic.Int64
	errors       atomic.Int64
}

type Snapshot struct {
	PagesFetched int64
	RecordsFound int64
	RecordsSaved int64
	Errors       int64
}

func New() *CrawlStats {
	return &CrawlStats{}
}

func (s *CrawlStats) AddPagesFetched(n int64) { s.pagesFetched.Add(n) }
func (s *CrawlStats) AddRecordsFound(n int64) { s.recordsFound.Add(n) }
func (s *CrawlStats) AddRecordsSaved(n int64) { s.recordsSaved.Add(n) }
func (s *CrawlStats) AddErrors(n int64)       { s.errors.Add(n) }

func (s *CrawlStats) Snapshot() Snapshot {
	return Snapshot{
		PagesFetched: s.pagesFetched.Load(),
		RecordsFound: s.recordsFound.Load(),
		RecordsSaved: s.recordsSaved.Load(),
		Errors:       s.errors.Load(),
	}
}

func (sn Snapshot) String() string {
	return fmt.Sprintf("pages_fetched=%d records_found=%d records_saved=%d errors=%d",
		sn.PagesFetched, sn.RecordsFound, sn.RecordsSaved, sn.Errors)
}
