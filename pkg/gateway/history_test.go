package gateway

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newClockedGateway returns a gateway whose readings are stamped with *clock
func newClockedGateway(clock *time.Time) *Gateway {
	g := New(nil)
	g.now = func() time.Time { return *clock }
	return g
}

func TestHistoryIsBounded(t *testing.T) {
	g := New(nil)
	g.MaxHistory = 3
	for i := 0; i < 5; i++ {
		g.HandlePacket(fmt.Sprintf(`<{"id":"N1","temp":%d}>`, i))
	}
	history := g.History(HistoryQuery{})
	require.Len(t, history, 3)
	require.Equal(t, 2.0, *history[0].Temp)
	require.Equal(t, 4.0, *history[2].Temp)
	require.Equal(t, Summary{Nodes: 1, History: 3}, g.Summary())
}

func TestHistoryQuery(t *testing.T) {
	clock := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	g := newClockedGateway(&clock)

	g.HandlePacket(`<{"id":"N1","temp":1}>`)
	g.HandlePacket(`<{"id":"N2","temp":2}>`)
	clock = clock.Add(2 * time.Hour)
	g.HandlePacket(`<{"id":"N1","temp":3}>`)
	clock = clock.Add(24 * time.Hour)
	g.HandlePacket(`<{"id":"N1","temp":4}>`)

	temps := func(readings []*Reading) []float64 {
		out := []float64{}
		for _, r := range readings {
			out = append(out, *r.Temp)
		}
		return out
	}
	testCases := []struct {
		name  string
		query HistoryQuery
		temps []float64
	}{
		{"all", HistoryQuery{}, []float64{1, 2, 3, 4}},
		{"node", HistoryQuery{NodeID: "N1"}, []float64{1, 3, 4}},
		{"date", HistoryQuery{NodeID: "N1", Date: "2024-05-01"}, []float64{1, 3}},
		{"start time", HistoryQuery{NodeID: "N1", StartTime: "09:00:00"}, []float64{3, 4}},
		{"time range", HistoryQuery{NodeID: "N1", StartTime: "08:00:00", EndTime: "08:00:00"}, []float64{1}},
		{"limit keeps newest", HistoryQuery{NodeID: "N1", Limit: 2}, []float64{3, 4}},
		{"unknown node", HistoryQuery{NodeID: "N9"}, []float64{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.temps, temps(g.History(tc.query)))
		})
	}
}

func TestDailyStats(t *testing.T) {
	clock := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	g := newClockedGateway(&clock)

	g.HandlePacket(`<{"id":"N1","temp":20,"hum":50}>`)
	clock = clock.Add(time.Hour)
	g.HandlePacket(`<{"id":"N1","temp":25,"hum":40}>`)
	g.HandlePacket(`<{"id":"N1","temp":99,"hum":99,"ack":true}>`)
	g.HandlePacket(`<{"id":"N1","temp":-5}>`)
	peak := clock
	clock = clock.Add(time.Hour)
	g.HandlePacket(`<{"id":"N1","temp":22,"hum":45}>`)
	g.HandlePacket(`<{"id":"N2","temp":18,"hum":70}>`)

	stats, ok := g.NodeStats("N1")
	require.True(t, ok)
	require.Len(t, stats, 1)
	s := stats[0]
	require.Equal(t, "2024-05-01", s.Date)
	require.Equal(t, "N1", s.NodeID)
	require.Equal(t, 3, s.Count)
	require.Equal(t, 25.0, s.TempMax)
	require.Equal(t, peak, s.TempMaxTime)
	require.Equal(t, 20.0, s.TempMin)
	require.Equal(t, 50.0, s.HumMax)
	require.Equal(t, 40.0, s.HumMin)
	require.Equal(t, clock, s.LastRecord)

	day := g.DayStats(g.Today())
	require.Len(t, day, 2)
	require.Equal(t, "N1", day[0].NodeID)
	require.Equal(t, "N2", day[1].NodeID)

	_, ok = g.NodeStats("N9")
	require.False(t, ok)

	stats[0].Count = 100
	stats, _ = g.NodeStats("N1")
	require.Equal(t, 3, stats[0].Count)
}

func TestDailyStatsRetention(t *testing.T) {
	clock := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	g := newClockedGateway(&clock)

	g.HandlePacket(`<{"id":"N1","temp":20,"hum":50}>`)
	g.HandlePacket(`<{"id":"N2","temp":20,"hum":50}>`)
	clock = clock.AddDate(0, 0, 1)
	g.HandlePacket(`<{"id":"N1","temp":21,"hum":51}>`)

	stats, ok := g.NodeStats("N1")
	require.True(t, ok)
	require.Len(t, stats, 2)
	require.Equal(t, "2024-05-02", stats[0].Date)
	require.Equal(t, "2024-05-01", stats[1].Date)

	clock = clock.AddDate(0, 0, StatsRetentionDays)
	g.HandlePacket(`<{"id":"N1","temp":22,"hum":52}>`)

	stats, ok = g.NodeStats("N1")
	require.True(t, ok)
	require.Len(t, stats, 2)
	require.Equal(t, "2024-06-01", stats[0].Date)
	require.Equal(t, "2024-05-02", stats[1].Date)
	_, ok = g.NodeStats("N2")
	require.False(t, ok)
}
