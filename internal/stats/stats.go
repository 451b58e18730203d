package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

const (
	TeamsCreated     = "TeamsCreated"
	JoinAttempts     = "JoinAttempts"
	JoinsRateLimited = "JoinsRateLimited"
	MessagesSent     = "MessagesSent"
)

type StatsProvider interface {
	Incr(name string)
	RegisterMetric(name string)
	Run()
	Stop()
}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan string
	done       chan struct{}
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewStatsUpdater creates a stats updater serving its metrics at
// GET /debug/vars. The map is not published globally, so several updaters
// can coexist in one process.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		vars:       new(expvar.Map).Init(),
		updateChan: make(chan string, 512),
		done:       make(chan struct{}),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
	for _, name := range []string{TeamsCreated, JoinAttempts, JoinsRateLimited, MessagesSent} {
		su.RegisterMetric(name)
	}
}

func (su *StatsUpdater) updateMetrics() {
	defer close(su.done)
	for name := range su.updateChan {
		metric, ok := su.vars.Get(name).(*expvar.Int)
		if !ok {
			panic("metric not found: " + name)
		}

		metric.Add(1)
	}
}

// Incr counts one occurrence of name. Every metric is a monotonic counter.
func (su *StatsUpdater) Incr(name string) {
	su.updateChan <- name
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

// Stop drains pending updates and waits for the update loop to exit.
func (su *StatsUpdater) Stop() {
	close(su.updateChan)
	<-su.done
}
