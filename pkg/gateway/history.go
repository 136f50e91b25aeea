package gateway

import (
	"sort"
	"time"
)

const (
	// DefaultMaxHistory is the number of readings kept when Gateway.MaxHistory is not set
	DefaultMaxHistory = 500
	// StatsRetentionDays is how many days of daily statistics are kept per node
	StatsRetentionDays = 30

	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// DailyStats are the temperature and humidity extremes of one node on one day.
// Only readings carrying both an average temperature and humidity count, acks don't.
type DailyStats struct {
	Date        string    `json:"date"`
	NodeID      string    `json:"nodeId"`
	TempMax     float64   `json:"tempMax"`
	TempMin     float64   `json:"tempMin"`
	HumMax      float64   `json:"humMax"`
	HumMin      float64   `json:"humMin"`
	TempMaxTime time.Time `json:"tempMaxTime"`
	TempMinTime time.Time `json:"tempMinTime"`
	HumMaxTime  time.Time `json:"humMaxTime"`
	HumMinTime  time.Time `json:"humMinTime"`
	Count       int       `json:"count"`
	FirstRecord time.Time `json:"firstRecord"`
	LastRecord  time.Time `json:"lastRecord"`
}

func newDailyStats(r *Reading) *DailyStats {
	ts := r.Timestamp
	return &DailyStats{
		Date:        ts.Format(dateLayout),
		NodeID:      r.ID,
		TempMax:     *r.Temp,
		TempMin:     *r.Temp,
		HumMax:      *r.Hum,
		HumMin:      *r.Hum,
		TempMaxTime: ts,
		TempMinTime: ts,
		HumMaxTime:  ts,
		HumMinTime:  ts,
		Count:       1,
		FirstRecord: ts,
		LastRecord:  ts,
	}
}

func (s *DailyStats) add(r *Reading) {
	ts := r.Timestamp
	if *r.Temp > s.TempMax {
		s.TempMax, s.TempMaxTime = *r.Temp, ts
	}
	if *r.Temp < s.TempMin {
		s.TempMin, s.TempMinTime = *r.Temp, ts
	}
	if *r.Hum > s.HumMax {
		s.HumMax, s.HumMaxTime = *r.Hum, ts
	}
	if *r.Hum < s.HumMin {
		s.HumMin, s.HumMinTime = *r.Hum, ts
	}
	s.Count++
	s.LastRecord = ts
}

func countsForStats(r *Reading) bool {
	return r.Temp != nil && r.Hum != nil && !r.Ack
}

// HistoryQuery selects readings from the history. Empty fields match everything.
type HistoryQuery struct {
	NodeID string
	// Date is YYYY-MM-DD
	Date string
	// StartTime and EndTime are HH:MM:SS, both inclusive
	StartTime string
	EndTime   string
	// Limit keeps the newest Limit matches, zero keeps all
	Limit int
}

func (q HistoryQuery) match(r *Reading) bool {
	if q.NodeID != "" && r.ID != q.NodeID {
		return false
	}
	if q.Date != "" && r.Timestamp.Format(dateLayout) != q.Date {
		return false
	}
	if q.StartTime == "" && q.EndTime == "" {
		return true
	}
	t := r.Timestamp.Format(timeLayout)
	return (q.StartTime == "" || t >= q.StartTime) && (q.EndTime == "" || t <= q.EndTime)
}

// record adds r to the history and the daily stats, g.mu must be held
func (g *Gateway) record(r *Reading) {
	max := g.MaxHistory
	if max <= 0 {
		max = DefaultMaxHistory
	}
	g.history = append(g.history, r)
	if over := len(g.history) - max; over > 0 {
		g.history = g.history[over:]
	}

	if !countsForStats(r) {
		return
	}
	days, ok := g.stats[r.ID]
	if !ok {
		days = make(map[string]*DailyStats)
		g.stats[r.ID] = days
	}
	date := r.Timestamp.Format(dateLayout)
	if s, ok := days[date]; ok {
		s.add(r)
		return
	}
	days[date] = newDailyStats(r)
	g.pruneStats(r.Timestamp.AddDate(0, 0, -StatsRetentionDays).Format(dateLayout))
}

// pruneStats drops statistics of days before cutoff, g.mu must be held
func (g *Gateway) pruneStats(cutoff string) {
	for id, days := range g.stats {
		for date := range days {
			if date < cutoff {
				delete(days, date)
			}
		}
		if len(days) == 0 {
			delete(g.stats, id)
		}
	}
}

// Node returns the latest reading of node id
func (g *Gateway) Node(id string) (*Reading, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.latest[id]
	return r, ok
}

// History returns the readings matching q, oldest first
func (g *Gateway) History(q HistoryQuery) []*Reading {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Reading, 0)
	for _, r := range g.history {
		if q.match(r) {
			out = append(out, r)
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

// NodeStats returns the daily statistics of node id, newest day first.
// ok is false when the node has none.
func (g *Gateway) NodeStats(id string) (stats []*DailyStats, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	days, ok := g.stats[id]
	if !ok {
		return nil, false
	}
	stats = make([]*DailyStats, 0, len(days))
	for _, s := range days {
		cp := *s
		stats = append(stats, &cp)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Date > stats[j].Date })
	return stats, true
}

// DayStats returns the statistics of every node on date, sorted by node id
func (g *Gateway) DayStats(date string) []*DailyStats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	stats := make([]*DailyStats, 0)
	for _, days := range g.stats {
		if s, ok := days[date]; ok {
			cp := *s
			stats = append(stats, &cp)
		}
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].NodeID < stats[j].NodeID })
	return stats
}

// Today is the current date in the layout used by DailyStats.Date
func (g *Gateway) Today() string {
	return g.now().Format(dateLayout)
}

// Summary counts what the gateway holds in memory
type Summary struct {
	Nodes      int
	History    int
	DailyStats int
}

// Summary returns the current counts
func (g *Gateway) Summary() Summary {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := Summary{Nodes: len(g.latest), History: len(g.history)}
	for _, days := range g.stats {
		s.DailyStats += len(days)
	}
	return s
}
