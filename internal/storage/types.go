package storage

import "time"

// OpenEndTime marks a record whose session has not finished yet.
const OpenEndTime int64 = -1

// PageVisitRecord is one tracked page visit. Times are epoch milliseconds and
// Duration is the accumulated visible time in milliseconds.
type PageVisitRecord struct {
	ID        int64  `json:"id"`
	Domain    string `json:"domain"`
	URL       string `json:"url"`
	Favicon   string `json:"favicon"`
	Duration  int64  `json:"duration"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

// Finalized reports whether the record's session has ended.
func (r PageVisitRecord) Finalized() bool {
	return r.EndTime != OpenEndTime
}

// Start returns StartTime as a time.Time.
func (r PageVisitRecord) Start() time.Time {
	return time.UnixMilli(r.StartTime)
}

// Criteria selects records for Query and Remove. Zero ID and empty strings
// mean "not supplied"; the time bounds are optional pointers.
type Criteria struct {
	ID        int64
	Domain    string
	URL       string
	StartTime *int64 // inclusive lower bound on startTime
	EndTime   *int64 // inclusive upper bound on endTime
}

// Millis returns a pointer to v, for filling Criteria bounds.
func Millis(v int64) *int64 {
	return &v
}

// hasRange reports whether either time bound was supplied.
func (c Criteria) hasRange() bool {
	return c.StartTime != nil || c.EndTime != nil
}

// IsEmpty reports whether no criterion was supplied.
func (c Criteria) IsEmpty() bool {
	return c.ID == 0 && c.Domain == "" && c.URL == "" && !c.hasRange()
}

// matches checks every supplied field against r.
func (c Criteria) matches(r PageVisitRecord) bool {
	if c.ID != 0 && r.ID != c.ID {
		return false
	}
	if c.Domain != "" && r.Domain != c.Domain {
		return false
	}
	if c.URL != "" && r.URL != c.URL {
		return false
	}
	if c.StartTime != nil && r.StartTime < *c.StartTime {
		return false
	}
	if c.EndTime != nil && r.EndTime > *c.EndTime {
		return false
	}
	return true
}

// RecordPatch holds the fields to merge in Update. Nil fields are left alone.
type RecordPatch struct {
	Domain    *string
	URL       *string
	Favicon   *string
	Duration  *int64
	StartTime *int64
	EndTime   *int64
}

// apply merges p onto r.
func (p RecordPatch) apply(r *PageVisitRecord) {
	if p.Domain != nil {
		r.Domain = *p.Domain
	}
	if p.URL != nil {
		r.URL = *p.URL
	}
	if p.Favicon != nil {
		r.Favicon = *p.Favicon
	}
	if p.Duration != nil {
		r.Duration = *p.Duration
	}
	if p.StartTime != nil {
		r.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		r.EndTime = *p.EndTime
	}
}

// Stats holds aggregate statistics about the page store.
type Stats struct {
	TotalRecords      int64            `json:"total_records"`
	TotalDuration     int64            `json:"total_duration"`
	OpenRecords       int64            `json:"open_records"`
	OldestStart       time.Time        `json:"oldest_start"`
	NewestStart       time.Time        `json:"newest_start"`
	DatabaseSizeBytes int64            `json:"database_size_bytes"`
	TopDomains        []DomainDuration `json:"top_domains"`
}

// DomainDuration pairs a domain with its accumulated visible time in ms.
type DomainDuration struct {
	Domain   string `json:"domain"`
	Duration int64  `json:"duration"`
	Visits   int64  `json:"visits"`
}
