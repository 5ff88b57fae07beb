package dashboard

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const scrapeTimeout = 10 * time.Second

var worktreesDesc = prometheus.NewDesc(
	"takopi_smithers_fleet_worktrees",
	"Configured worktrees by supervisor state.",
	[]string{"state"}, nil,
)

// FleetCollector exports the fleet summary on every scrape.
type FleetCollector struct {
	fleet Fleet
}

// NewFleetCollector returns a collector over f.
func NewFleetCollector(f Fleet) *FleetCollector {
	return &FleetCollector{fleet: f}
}

// Describe implements prometheus.Collector.
func (c *FleetCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- worktreesDesc
}

// Collect implements prometheus.Collector.
func (c *FleetCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()
	reports, err := c.fleet.Status(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(worktreesDesc, err)
		return
	}
	s := summarize(reports)
	for state, n := range map[string]int{
		"total":   s.Total,
		"running": s.Running,
		"paused":  s.Paused,
		"stale":   s.Stale,
	} {
		ch <- prometheus.MustNewConstMetric(worktreesDesc, prometheus.GaugeValue, float64(n), state)
	}
}
