/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package metrics is a prometheus.Collector over the runtime's per-flow
// dispatch counters, generalized from the teacher's
// pkg/exporter.TCPInfoCollector (a sync.Mutex-guarded map of tracked
// net.Conns scraped on Collect) to a sync.Mutex-guarded map of tracked
// flows scraped the same way (SPEC_FULL.md §2 "pkg/metrics").
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector counts runtime-dispatch events per flow: reports received,
// frames sent, decode errors, installs, and stale reports. It implements
// prometheus.Collector so a binary can prometheus.MustRegister it
// exactly as the teacher's cmd/exporter_example1 registers a
// TCPInfoCollector.
type Collector struct {
	mu    sync.Mutex
	flows map[uint32]*flowCounters

	decodeErrors  uint64
	staleReports  uint64
	installsTotal uint64

	reportsDesc  *prometheus.Desc
	framesDesc   *prometheus.Desc
	decodeDesc   *prometheus.Desc
	staleDesc    *prometheus.Desc
	installsDesc *prometheus.Desc
}

type flowCounters struct {
	reports uint64
	frames  uint64
}

// NewCollector builds a Collector. constLabels is meant for labels with
// values constant for the whole process (teacher: exporter.go's
// constLabels parameter on NewTCPInfoCollector).
func NewCollector(prefix string, constLabels prometheus.Labels) *Collector {
	return &Collector{
		flows: make(map[uint32]*flowCounters),
		reportsDesc: prometheus.NewDesc(prefix+"_reports_total",
			"Number of Measure frames dispatched to on_report, per flow.",
			[]string{"sock_id"}, constLabels),
		framesDesc: prometheus.NewDesc(prefix+"_frames_sent_total",
			"Number of control frames sent to the datapath, per flow.",
			[]string{"sock_id"}, constLabels),
		decodeDesc: prometheus.NewDesc(prefix+"_decode_errors_total",
			"Number of inbound frames dropped for a decode error.",
			nil, constLabels),
		staleDesc: prometheus.NewDesc(prefix+"_stale_reports_total",
			"Number of Measure frames dropped for a program_uid mismatch.",
			nil, constLabels),
		installsDesc: prometheus.NewDesc(prefix+"_installs_total",
			"Number of Install frames sent to the datapath.",
			nil, constLabels),
	}
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.reportsDesc
	descs <- c.framesDesc
	descs <- c.decodeDesc
	descs <- c.staleDesc
	descs <- c.installsDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for sockID, fc := range c.flows {
		label := sockIDLabel(sockID)
		ch <- prometheus.MustNewConstMetric(c.reportsDesc, prometheus.CounterValue, float64(fc.reports), label)
		ch <- prometheus.MustNewConstMetric(c.framesDesc, prometheus.CounterValue, float64(fc.frames), label)
	}
	ch <- prometheus.MustNewConstMetric(c.decodeDesc, prometheus.CounterValue, float64(c.decodeErrors))
	ch <- prometheus.MustNewConstMetric(c.staleDesc, prometheus.CounterValue, float64(c.staleReports))
	ch <- prometheus.MustNewConstMetric(c.installsDesc, prometheus.CounterValue, float64(c.installsTotal))
}

// IncReport records one Measure frame dispatched to on_report for sockID.
func (c *Collector) IncReport(sockID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flowFor(sockID).reports++
}

// IncFrameSent records one outbound frame for sockID.
func (c *Collector) IncFrameSent(sockID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flowFor(sockID).frames++
}

// IncDecodeError records one dropped, malformed inbound frame.
func (c *Collector) IncDecodeError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decodeErrors++
}

// IncStaleReport records one Measure dropped for a program_uid mismatch.
func (c *Collector) IncStaleReport() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staleReports++
}

// IncInstall records one Install frame sent to the datapath.
func (c *Collector) IncInstall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.installsTotal++
}

// RemoveFlow drops a flow's per-socket counters once it closes, mirroring
// the teacher's Remove(conn) on flow teardown.
func (c *Collector) RemoveFlow(sockID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.flows, sockID)
}

func (c *Collector) flowFor(sockID uint32) *flowCounters {
	fc, ok := c.flows[sockID]
	if !ok {
		fc = &flowCounters{}
		c.flows[sockID] = fc
	}
	return fc
}

func sockIDLabel(sockID uint32) string {
	return strconv.FormatUint(uint64(sockID), 10)
}
