package storage

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// DayLayout is the day-string format used by the tabTimes aggregate.
const DayLayout = "2006-01-02"

// TabTimes is the legacy per-day aggregate: day → url → accumulated ms.
// The pages table is canonical; this shape is only derived from it or
// imported from older installs.
type TabTimes map[string]map[string]int64

// Add accumulates ms for url on day.
func (t TabTimes) Add(day, url string, ms int64) {
	if t[day] == nil {
		t[day] = make(map[string]int64)
	}
	t[day][url] += ms
}

// Days returns the day keys in ascending order.
func (t TabTimes) Days() []string {
	days := make([]string, 0, len(t))
	for d := range t {
		days = append(days, d)
	}
	sort.Strings(days)
	return days
}

// DailyTotals derives the tabTimes view from the records selected by c,
// bucketing each record by the local day of its start time.
func (s *SQLiteStore) DailyTotals(ctx context.Context, c Criteria, loc *time.Location) (TabTimes, error) {
	if loc == nil {
		loc = time.Local
	}
	records, err := s.Query(ctx, c)
	if err != nil {
		return nil, err
	}

	totals := TabTimes{}
	for _, r := range records {
		day := time.UnixMilli(r.StartTime).In(loc).Format(DayLayout)
		totals.Add(day, r.URL, r.Duration)
	}
	return totals, nil
}

// ImportResult summarizes a legacy tabTimes import.
type ImportResult struct {
	Imported int
	Skipped  []string // day keys that could not be parsed
}

// ImportLegacyTabTimes converts a stored tabTimes setting into finalized
// page records, one per (day, url), then deletes the setting so the import
// runs once. A missing setting imports nothing.
func (s *SQLiteStore) ImportLegacyTabTimes(ctx context.Context, loc *time.Location) (ImportResult, error) {
	var result ImportResult
	if loc == nil {
		loc = time.Local
	}

	legacy := TabTimes{}
	found, err := s.GetSetting(ctx, SettingTabTimes, &legacy)
	if err != nil || !found {
		return result, err
	}

	var records []PageVisitRecord
	for _, day := range legacy.Days() {
		start, err := time.ParseInLocation(DayLayout, day, loc)
		if err != nil {
			result.Skipped = append(result.Skipped, day)
			continue
		}

		urls := make([]string, 0, len(legacy[day]))
		for u := range legacy[day] {
			urls = append(urls, u)
		}
		sort.Strings(urls)

		for _, u := range urls {
			ms := legacy[day][u]
			if ms < 0 {
				ms = 0
			}
			records = append(records, PageVisitRecord{
				Domain:    ExtractDomain(u),
				URL:       u,
				Duration:  ms,
				StartTime: start.UnixMilli(),
				EndTime:   start.UnixMilli() + ms,
			})
		}
	}

	if _, err := s.Insert(ctx, records...); err != nil {
		return result, fmt.Errorf("import tabTimes: %w", err)
	}
	result.Imported = len(records)

	if err := s.DeleteSetting(ctx, SettingTabTimes); err != nil {
		return result, err
	}
	return result, nil
}
