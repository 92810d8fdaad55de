package core

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

type Stats struct {
	Total         int                 `json:"total"`
	ByStatus      map[CrimeStatus]int `json:"byStatus"`
	ByType        map[CrimeType]int   `json:"byType"`
	ByChainStatus map[ChainStatus]int `json:"byChainStatus"`
}

func (s *ReportService) Stats(ctx context.Context, f Filter) (Stats, error) {
	reports, err := s.ListReports(ctx, f)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Total:         len(reports),
		ByStatus:      make(map[CrimeStatus]int, len(CrimeStatuses)),
		ByType:        make(map[CrimeType]int, len(CrimeTypes)),
		ByChainStatus: make(map[ChainStatus]int, 3),
	}
	for _, r := range reports {
		st.ByStatus[r.Status]++
		st.ByType[r.Type]++
		st.ByChainStatus[r.ChainStatus]++
	}
	return st, nil
}

// TimeRange names a heatmap window ending now.
type TimeRange string

const (
	RangeDay   TimeRange = "day"
	RangeWeek  TimeRange = "week"
	RangeMonth TimeRange = "month"
	RangeAll   TimeRange = "all"
)

func (t TimeRange) Since(now time.Time) (time.Time, error) {
	switch t {
	case RangeDay:
		return now.AddDate(0, 0, -1), nil
	case RangeWeek, "":
		return now.AddDate(0, 0, -7), nil
	case RangeMonth:
		return now.AddDate(0, -1, 0), nil
	case RangeAll:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("%w: unknown time range %q", ErrInvalidReport, t)
}

type HeatmapQuery struct {
	Range    TimeRange
	Type     CrimeType
	CellSize float64 // degrees
}

const DefaultCellSize = 0.005

type HeatCell struct {
	Lat    float64           `json:"lat"`
	Lng    float64           `json:"lng"`
	Count  int               `json:"count"`
	ByType map[CrimeType]int `json:"byType"`
}

type Heatmap struct {
	CenterLat float64    `json:"centerLat"`
	CenterLng float64    `json:"centerLng"`
	CellSize  float64    `json:"cellSize"`
	Cells     []HeatCell `json:"cells"`
}

// Heatmap buckets matching reports into a lat/lng grid. Cells are reported
// by their center and sorted by descending count.
func (s *ReportService) Heatmap(ctx context.Context, q HeatmapQuery) (Heatmap, error) {
	since, err := q.Range.Since(s.now())
	if err != nil {
		return Heatmap{}, err
	}
	if q.Type != "" && !q.Type.Valid() {
		return Heatmap{}, fmt.Errorf("%w: unknown crime type %q", ErrInvalidReport, q.Type)
	}
	cell := q.CellSize
	if cell <= 0 {
		cell = DefaultCellSize
	}

	reports, err := s.db.List(ctx, Filter{Type: q.Type, Since: since})
	if err != nil {
		return Heatmap{}, fmt.Errorf("list reports: %w", err)
	}

	type key struct{ y, x int64 }
	cells := make(map[key]*HeatCell)
	hm := Heatmap{CellSize: cell, Cells: []HeatCell{}}
	for _, r := range reports {
		hm.CenterLat += r.Location.Lat
		hm.CenterLng += r.Location.Lng

		k := key{int64(math.Floor(r.Location.Lat / cell)), int64(math.Floor(r.Location.Lng / cell))}
		c, ok := cells[k]
		if !ok {
			c = &HeatCell{
				Lat:    (float64(k.y) + 0.5) * cell,
				Lng:    (float64(k.x) + 0.5) * cell,
				ByType: make(map[CrimeType]int),
			}
			cells[k] = c
		}
		c.Count++
		c.ByType[r.Type]++
	}
	if n := len(reports); n > 0 {
		hm.CenterLat /= float64(n)
		hm.CenterLng /= float64(n)
	}
	for _, c := range cells {
		hm.Cells = append(hm.Cells, *c)
	}
	sort.Slice(hm.Cells, func(i, j int) bool {
		a, b := hm.Cells[i], hm.Cells[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Lat != b.Lat {
			return a.Lat < b.Lat
		}
		return a.Lng < b.Lng
	})
	return hm, nil
}
