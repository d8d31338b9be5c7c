package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/logfields"
)

const metricNamespace = "mergetrain_supervisor"

const restartsMetricName = "pipeline_restarts_total"

const repositoryLabel = "repository"

type metricCollector struct {
	logger   *zap.Logger
	restarts *prometheus.CounterVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		logger: zap.L().Named(loggerName).Named("metrics"),
		restarts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      restartsMetricName,
				Help:      "count of pipeline restarts after unexpected terminations",
			},
			[]string{repositoryLabel},
		),
	}
}

func (m *metricCollector) RestartsInc(repo event.RepositoryID) {
	cnt, err := m.restarts.GetMetricWith(prometheus.Labels{repositoryLabel: repo.String()})
	if err != nil {
		m.logger.Warn(
			"could not record metric",
			zap.String("metric", restartsMetricName),
			logfields.Event("recording_metric_failed"),
			zap.Error(err),
		)
		return
	}

	cnt.Inc()
}
