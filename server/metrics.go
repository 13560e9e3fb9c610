package server

import (
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics exports the daemon's gauges. Values are set from the loop;
// the prometheus registry handles concurrent scrapes itself.
type metrics struct {
	localUsers  prometheus.Gauge
	globalUsers prometheus.Gauge
	channels    prometheus.Gauge
	links       prometheus.Gauge
	linesIn     *prometheus.CounterVec

	cmdLock sync.Mutex
	cmds    map[string]uint64

	registry *prometheus.Registry
}

func newMetrics() *metrics {
	m := &metrics{
		localUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "braid_local_users", Help: "Users connected to this server."}),
		globalUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "braid_global_users", Help: "Users known across the network."}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "braid_channels", Help: "Channels known across the network."}),
		links: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "braid_links", Help: "Directly connected servers."}),
		linesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "braid_lines_in_total", Help: "Lines received, by origin."},
			[]string{"origin"}),
		cmds:     make(map[string]uint64),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.localUsers, m.globalUsers, m.channels, m.links, m.linesIn)
	return m
}

func (m *metrics) setUsers(local, global int) {
	m.localUsers.Set(float64(local))
	m.globalUsers.Set(float64(global))
}

func (m *metrics) setChannels(n int) { m.channels.Set(float64(n)) }
func (m *metrics) setLinks(n int)    { m.links.Set(float64(n)) }

func (m *metrics) countLine(origin string) { m.linesIn.WithLabelValues(origin).Inc() }

func (m *metrics) countCommand(cmd string) {
	m.cmdLock.Lock()
	m.cmds[cmd]++
	m.cmdLock.Unlock()
}

// commandCounts renders "COMMAND count" lines for STATS m.
func (m *metrics) commandCounts() []string {
	m.cmdLock.Lock()
	defer m.cmdLock.Unlock()
	out := make([]string, 0, len(m.cmds))
	for k, v := range m.cmds {
		out = append(out, fmt.Sprintf("%s %d", k, v))
	}
	sort.Strings(out)
	return out
}

// serve exposes /metrics on addr; empty addr disables the listener.
func (m *metrics) serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Println("metrics:", err)
		}
	}()
}
