package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/logfields"
)

const metricNamespace = "mergetrain_pipeline"

const (
	queueOperationsMetricName = "queue_operations_total"
	processedEventsMetricName = "processed_events_total"
	queuedCountMetricName     = "queued_merge_requests_count"
	buildResultsMetricName    = "build_results_total"
	mergeResultsMetricName    = "merge_results_total"
)

const (
	baseBranchLabel = "base_branch"
	repositoryLabel = "repository"
	operationLabel  = "operation"
	kindLabel       = "kind"
	outcomeLabel    = "outcome"
)

type operationLabelVal string

const (
	operationLabelEnqueueVal operationLabelVal = "enqueue"
	operationLabelDequeueVal operationLabelVal = "dequeue"
)

type metricCollector struct {
	logger          *zap.Logger
	queueOps        *prometheus.CounterVec
	processedEvents *prometheus.CounterVec
	queueSize       *prometheus.GaugeVec
	buildResults    *prometheus.CounterVec
	mergeResults    *prometheus.CounterVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		logger: zap.L().Named(loggerName).Named("metrics"),
		queueOps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      queueOperationsMetricName,
				Help:      "count of queue operations",
			},
			[]string{repositoryLabel, baseBranchLabel, operationLabel},
		),
		processedEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      processedEventsMetricName,
				Help:      "count of processed events",
			},
			[]string{repositoryLabel, kindLabel},
		),
		queueSize: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      queuedCountMetricName,
				Help:      "count of approved merge requests waiting in the queue",
			},
			[]string{repositoryLabel, baseBranchLabel},
		),
		buildResults: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      buildResultsMetricName,
				Help:      "count of build results of in-flight merge requests",
			},
			[]string{repositoryLabel, baseBranchLabel, outcomeLabel},
		),
		mergeResults: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      mergeResultsMetricName,
				Help:      "count of merge results of in-flight merge requests",
			},
			[]string{repositoryLabel, baseBranchLabel, outcomeLabel},
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

func (m *metricCollector) QueueOpsInc(repo event.RepositoryID, branch string, operation operationLabelVal) {
	cnt, err := m.queueOps.GetMetricWith(prometheus.Labels{
		repositoryLabel: repo.String(),
		baseBranchLabel: branch,
		operationLabel:  string(operation),
	})
	if err != nil {
		m.logGetMetricFailed(queueOperationsMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) ProcessedEventsInc(repo event.RepositoryID, kind event.Kind) {
	cnt, err := m.processedEvents.GetMetricWith(prometheus.Labels{
		repositoryLabel: repo.String(),
		kindLabel:       kind.String(),
	})
	if err != nil {
		m.logGetMetricFailed(processedEventsMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) QueueSizeSet(repo event.RepositoryID, branch string, size int) {
	gauge, err := m.queueSize.GetMetricWith(prometheus.Labels{
		repositoryLabel: repo.String(),
		baseBranchLabel: branch,
	})
	if err != nil {
		m.logGetMetricFailed(queuedCountMetricName, err)
		return
	}

	gauge.Set(float64(size))
}

func (m *metricCollector) BuildResultInc(repo event.RepositoryID, branch, outcome string) {
	m.resultInc(m.buildResults, buildResultsMetricName, repo, branch, outcome)
}

func (m *metricCollector) MergeResultInc(repo event.RepositoryID, branch, outcome string) {
	m.resultInc(m.mergeResults, mergeResultsMetricName, repo, branch, outcome)
}

func (m *metricCollector) resultInc(vec *prometheus.CounterVec, name string, repo event.RepositoryID, branch, outcome string) {
	cnt, err := vec.GetMetricWith(prometheus.Labels{
		repositoryLabel: repo.String(),
		baseBranchLabel: branch,
		outcomeLabel:    outcome,
	})
	if err != nil {
		m.logGetMetricFailed(name, err)
		return
	}

	cnt.Inc()
}
