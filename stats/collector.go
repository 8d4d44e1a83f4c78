package stats

import "github.com/prometheus/client_golang/prometheus"

// Collector adapts a Registry to the prometheus.Collector interface so the
// diagnostics server can expose per-scheme I/O counters.
type Collector struct {
	reg *Registry

	bytesRead    *prometheus.Desc
	bytesWritten *prometheus.Desc
	readOps      *prometheus.Desc
	largeReadOps *prometheus.Desc
	writeOps     *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector reading live values from reg at scrape
// time.
func NewCollector(reg *Registry) *Collector {
	labels := []string{"scheme"}
	return &Collector{
		reg: reg,
		bytesRead: prometheus.NewDesc(
			"fsmux_bytes_read_total",
			"Bytes read through handles of a backend type.",
			labels, nil),
		bytesWritten: prometheus.NewDesc(
			"fsmux_bytes_written_total",
			"Bytes written through handles of a backend type.",
			labels, nil),
		readOps: prometheus.NewDesc(
			"fsmux_read_ops_total",
			"Read operations issued to a backend type.",
			labels, nil),
		largeReadOps: prometheus.NewDesc(
			"fsmux_large_read_ops_total",
			"Bulk read operations issued to a backend type.",
			labels, nil),
		writeOps: prometheus.NewDesc(
			"fsmux_write_ops_total",
			"Write operations issued to a backend type.",
			labels, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesRead
	ch <- c.bytesWritten
	ch <- c.readOps
	ch <- c.largeReadOps
	ch <- c.writeOps
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.reg.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.bytesRead, prometheus.CounterValue, float64(s.BytesRead), s.Scheme)
		ch <- prometheus.MustNewConstMetric(c.bytesWritten, prometheus.CounterValue, float64(s.BytesWritten), s.Scheme)
		ch <- prometheus.MustNewConstMetric(c.readOps, prometheus.CounterValue, float64(s.ReadOps), s.Scheme)
		ch <- prometheus.MustNewConstMetric(c.largeReadOps, prometheus.CounterValue, float64(s.LargeReadOps), s.Scheme)
		ch <- prometheus.MustNewConstMetric(c.writeOps, prometheus.CounterValue, float64(s.WriteOps), s.Scheme)
	}
}
