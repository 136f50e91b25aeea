package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
)

// DefaultHistoryLimit is the number of readings /api/history returns without a limit parameter
const DefaultHistoryLimit = 100

// API serves the gateway state and relay control over HTTP
type API struct {
	Gateway *Gateway
	// Clients returns the number of WebSocket clients, may be nil
	Clients    func() int
	SerialPort string
	BaudRate   int

	started time.Time
}

// NewAPI creates an API for g
func NewAPI(g *Gateway) *API {
	return &API{Gateway: g, started: time.Now()}
}

// Register adds the API routes to mux
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/nodes", a.nodes)
	mux.HandleFunc("/api/nodes/", a.node)
	mux.HandleFunc("/api/history", a.history)
	mux.HandleFunc("/api/control/relay", a.controlRelay)
	mux.HandleFunc("/api/daily-stats", a.todayStats)
	mux.HandleFunc("/api/daily-stats/", a.nodeStats)
	mux.HandleFunc("/api/status", a.status)
	mux.HandleFunc("/health", health)
}

// Handler returns a mux serving only the API routes
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.Register(mux)
	return mux
}

type apiResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Date    string      `json:"date,omitempty"`
	Count   *int        `json:"count,omitempty"`
	Command *Command    `json:"command,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func list(data interface{}, n int) apiResponse {
	return apiResponse{Success: true, Count: &n, Data: data}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.V(1).Infof("failed to write response: %v", err)
	}
}

func fail(w http.ResponseWriter, code int, format string, args ...interface{}) {
	writeJSON(w, code, apiResponse{Message: fmt.Sprintf(format, args...)})
}

// allow answers 405 unless r uses method
func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	fail(w, http.StatusMethodNotAllowed, "method %s not allowed", r.Method)
	return false
}

func health(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) nodes(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	nodes := a.Gateway.Nodes()
	writeJSON(w, http.StatusOK, list(nodes, len(nodes)))
}

func (a *API) node(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/nodes/")
	reading, ok := a.Gateway.Node(id)
	if !ok {
		fail(w, http.StatusNotFound, "Node %s not found", id)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: reading})
}

func (a *API) history(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	params := r.URL.Query()
	q := HistoryQuery{
		NodeID:    params.Get("nodeId"),
		Date:      params.Get("date"),
		StartTime: params.Get("startTime"),
		EndTime:   params.Get("endTime"),
		Limit:     DefaultHistoryLimit,
	}
	if q.NodeID == "" {
		fail(w, http.StatusBadRequest, "nodeId is required for history")
		return
	}
	if val := params.Get("limit"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			fail(w, http.StatusBadRequest, "invalid limit %q", val)
			return
		}
		q.Limit = n
	}
	readings := a.Gateway.History(q)
	writeJSON(w, http.StatusOK, list(readings, len(readings)))
}

func (a *API) controlRelay(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		fail(w, http.StatusBadRequest, "invalid command: %v", err)
		return
	}
	if cmd.Target == "" {
		fail(w, http.StatusBadRequest, "Target node ID is required")
		return
	}
	if err := a.Gateway.SendCommand(cmd); err != nil {
		fail(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Command sent to " + cmd.Target,
		Command: &cmd,
	})
}

func (a *API) todayStats(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	today := a.Gateway.Today()
	stats := a.Gateway.DayStats(today)
	res := list(stats, len(stats))
	res.Date = today
	writeJSON(w, http.StatusOK, res)
}

func (a *API) nodeStats(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/daily-stats/")
	stats, ok := a.Gateway.NodeStats(id)
	if !ok {
		fail(w, http.StatusNotFound, "No statistics found for node %s", id)
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		writeJSON(w, http.StatusOK, list(stats, len(stats)))
		return
	}
	for _, s := range stats {
		if s.Date == date {
			writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: s})
			return
		}
	}
	fail(w, http.StatusNotFound, "No statistics found for %s on %s", id, date)
}

type serialStatus struct {
	Path     string `json:"path"`
	BaudRate int    `json:"baudRate"`
}

type memoryStatus struct {
	HeapUsed  string `json:"heapUsed"`
	HeapTotal string `json:"heapTotal"`
}

type statusResponse struct {
	Success          bool         `json:"success"`
	Status           string       `json:"status"`
	Session          string       `json:"session"`
	SerialPort       serialStatus `json:"serialPort"`
	Nodes            int          `json:"nodes"`
	HistorySize      int          `json:"historySize"`
	DailyStatsCount  int          `json:"dailyStatsCount"`
	ConnectedClients int          `json:"connectedClients"`
	Memory           memoryStatus `json:"memory"`
	Uptime           string       `json:"uptime"`
}

func megabytes(n uint64) string {
	return fmt.Sprintf("%d MB", n/1024/1024)
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	sum := a.Gateway.Summary()
	res := statusResponse{
		Success:         true,
		Status:          "running",
		Session:         a.Gateway.Session,
		SerialPort:      serialStatus{Path: a.SerialPort, BaudRate: a.BaudRate},
		Nodes:           sum.Nodes,
		HistorySize:     sum.History,
		DailyStatsCount: sum.DailyStats,
		Memory:          memoryStatus{HeapUsed: megabytes(mem.HeapAlloc), HeapTotal: megabytes(mem.HeapSys)},
		Uptime:          fmt.Sprintf("%ds", int(time.Since(a.started).Seconds())),
	}
	if a.Clients != nil {
		res.ConnectedClients = a.Clients()
	}
	writeJSON(w, http.StatusOK, res)
}
