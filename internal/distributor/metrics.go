package distributor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/logfields"
)

const metricNamespace = "mergetrain_distributor"

const (
	eventsMetricName   = "events_total"
	bufferedMetricName = "buffered_events_count"
)

const (
	repositoryLabel = "repository"
	resultLabel     = "result"
)

type resultLabelVal string

const (
	resultLabelDeliveredVal  resultLabelVal = "delivered"
	resultLabelDroppedVal    resultLabelVal = "dropped"
	resultLabelUnroutableVal resultLabelVal = "unroutable"
)

type metricCollector struct {
	logger   *zap.Logger
	events   *prometheus.CounterVec
	buffered *prometheus.GaugeVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		logger: zap.L().Named(loggerName).Named("metrics"),
		events: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      eventsMetricName,
				Help:      "count of published events by dispatch result",
			},
			[]string{repositoryLabel, resultLabel},
		),
		buffered: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      bufferedMetricName,
				Help:      "count of events withheld because subscribers have no demand",
			},
			[]string{repositoryLabel},
		),
	}
}

func (m *metricCollector) logGetMetricFailed(metricName string, err error) {
	m.logger.Warn(
		"could not record metric",
		zap.String("metric", metricName),
		logfields.Event("recording_metric_failed"),
		zap.Error(err),
	)
}

func (m *metricCollector) EventsInc(repo event.RepositoryID, result resultLabelVal) {
	cnt, err := m.events.GetMetricWith(prometheus.Labels{
		repositoryLabel: repo.String(),
		resultLabel:     string(result),
	})
	if err != nil {
		m.logGetMetricFailed(eventsMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) BufferedAdd(repo event.RepositoryID, delta int) {
	gauge, err := m.buffered.GetMetricWith(prometheus.Labels{
		repositoryLabel: repo.String(),
	})
	if err != nil {
		m.logGetMetricFailed(bufferedMetricName, err)
		return
	}

	gauge.Add(float64(delta))
}
