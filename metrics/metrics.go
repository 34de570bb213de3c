package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "replay"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	testRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "test_runs_total",
		Help:      "Count of completed test runs",
	}, []string{
		"service",
		"runner_type",
		"result",
	})

	testRunDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "test_run_elapsed_seconds",
		Help:      "Aggregated elapsed time of the last test run of a service",
	}, []string{
		"service",
	})

	testRunsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "test_runs_in_flight",
		Help:      "Number of launched test runs not yet terminated",
	})

	testCasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "test_cases_total",
		Help:      "Count of test cases by outcome",
	}, []string{
		"service",
		"operation",
		"result",
	})

	runnerFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runner_fallbacks_total",
		Help:      "Count of runner selections that fell back to the default runner",
	}, []string{
		"runner_type",
	})

	artifactDownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "artifact_downloads_total",
		Help:      "Count of remote artifact downloads",
	}, []string{
		"result",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func resultLabel(success bool) string {
	if success {
		return "pass"
	}
	return "fail"
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordTestRun(service string, runnerType string, success bool, elapsed time.Duration) {
	testRunsTotal.WithLabelValues(service, runnerType, resultLabel(success)).Inc()
	testRunDuration.WithLabelValues(service).Set(elapsed.Seconds())
}

// RecordTestCase counts a resolved test case. Aborted cases are labelled "abort".
func RecordTestCase(service string, operation string, success bool, aborted bool) {
	result := resultLabel(success)
	if aborted {
		result = "abort"
	}
	if Debug {
		log.Debug("metric inc",
			"m", "test_cases_total",
			"service", service,
			"operation", operation,
			"result", result)
	}
	testCasesTotal.WithLabelValues(service, operation, result).Inc()
}

func RecordRunnerFallback(runnerType string) {
	runnerFallbacksTotal.WithLabelValues(runnerType).Inc()
}

func RecordArtifactDownload(success bool) {
	artifactDownloadsTotal.WithLabelValues(resultLabel(success)).Inc()
}

func RunStarted() {
	testRunsInFlight.Inc()
}

func RunFinished() {
	testRunsInFlight.Dec()
}
