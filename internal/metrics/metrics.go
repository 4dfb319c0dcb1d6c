package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OnlineUsersProvider exposes the number of users with a live websocket.
type OnlineUsersProvider interface {
	Count() int
}

// ActiveCallsProvider exposes the number of in-flight call sessions.
type ActiveCallsProvider interface {
	ActiveCalls() int
}

// UserCounter returns the number of registered accounts.
type UserCounter interface {
	Count(ctx context.Context) (int64, error)
}

// MessageCounter returns the number of persisted chat messages.
type MessageCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Collector is a prometheus.Collector that gathers ChatFlow metrics at scrape time.
type Collector struct {
	online    OnlineUsersProvider
	calls     ActiveCallsProvider
	users     UserCounter
	messages  MessageCounter
	startTime time.Time

	onlineUsersDesc *prometheus.Desc
	activeCallsDesc *prometheus.Desc
	usersDesc       *prometheus.Desc
	messagesDesc    *prometheus.Desc
	uptimeDesc      *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	online OnlineUsersProvider,
	calls ActiveCallsProvider,
	users UserCounter,
	messages MessageCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		online:    online,
		calls:     calls,
		users:     users,
		messages:  messages,
		startTime: startTime,

		onlineUsersDesc: prometheus.NewDesc(
			"chatflow_online_users",
			"Number of users with a live websocket connection",
			nil, nil,
		),
		activeCallsDesc: prometheus.NewDesc(
			"chatflow_active_calls",
			"Number of in-flight call sessions (ringing + active)",
			nil, nil,
		),
		usersDesc: prometheus.NewDesc(
			"chatflow_registered_users",
			"Number of registered accounts",
			nil, nil,
		),
		messagesDesc: prometheus.NewDesc(
			"chatflow_messages_total",
			"Total persisted chat messages",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"chatflow_uptime_seconds",
			"Seconds since the ChatFlow process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.onlineUsersDesc
	ch <- c.activeCallsDesc
	ch <- c.usersDesc
	ch <- c.messagesDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.online != nil {
		ch <- prometheus.MustNewConstMetric(
			c.onlineUsersDesc, prometheus.GaugeValue,
			float64(c.online.Count()),
		)
	}

	if c.calls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(c.calls.ActiveCalls()),
		)
	}

	if c.users != nil {
		count, err := c.users.Count(ctx)
		if err != nil {
			slog.Error("metrics: failed to count users", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.usersDesc, prometheus.GaugeValue,
				float64(count),
			)
		}
	}

	if c.messages != nil {
		count, err := c.messages.Count(ctx)
		if err != nil {
			slog.Error("metrics: failed to count messages", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.messagesDesc, prometheus.CounterValue,
				float64(count),
			)
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
