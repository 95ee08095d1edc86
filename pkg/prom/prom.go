package prom

import (
	"sync"

	xhttp "github.com/fleetbill/billing-engine/pkg/http"
	"github.com/fleetbill/billing-engine/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemWebhook    = "webhook"
	SystemEscalation = "escalation"
)

const (
	MetricWebhookEventsTotal          = "events_total"
	MetricEscalationRunDuration       = "run_duration_seconds"
	MetricEscalationStatusChangeTotal = "status_changes_total"
	MetricEscalationNotifyTotal       = "notifications_total"
)

var lockCreateMetric = &sync.Mutex{}
var namespace = "none"

var MetricSystemEnabled = false

var counterVecs = make(map[string]*prometheus.CounterVec)
var histogramVecs = make(map[string]*prometheus.HistogramVec)

var defaultLabels prometheus.Labels

func Create(host string, env string, nameSpace string) error {
	defaultLabels = make(prometheus.Labels)
	defaultLabels["env"] = env
	defaultLabels["instance"] = host
	namespace = nameSpace
	MetricSystemEnabled = true

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	hasError(createCounterVec(SystemWebhook, MetricWebhookEventsTotal, []string{"gateway", "kind", "outcome"}))
	hasError(createCounterVec(SystemEscalation, MetricEscalationStatusChangeTotal, []string{"level"}))
	hasError(createCounterVec(SystemEscalation, MetricEscalationNotifyTotal, []string{"template"}))
	hasError(createHistogramVec(SystemEscalation, MetricEscalationRunDuration, []string{"trigger"}))

	return err
}

func ListenAndServe(port string, url string) {
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	s := xhttp.CreateServer()
	s.GET(url, hh)
	logger.Info("[metrics-server] listening...", "url", url)
	if err := s.ListenAndServe(port); err != nil {
		logger.Panic("[metrics-server] http listen error", "error", err)
	}
}

func createCounterVec(subsystem, name string, labels []string) error {
	lockCreateMetric.Lock()
	defer lockCreateMetric.Unlock()
	counterVecs[subsystem+name] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(counterVecs[subsystem+name])
}

func createHistogramVec(subsystem, name string, labels []string) error {
	lockCreateMetric.Lock()
	defer lockCreateMetric.Unlock()
	histogramVecs[subsystem+name] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
		Buckets:     prometheus.DefBuckets,
	}, labels)
	return prometheus.Register(histogramVecs[subsystem+name])
}

func IncCounterVec(subsystem, name string, labelValues ...string) {
	AddCounterVec(subsystem, name, 1, labelValues...)
}

func AddCounterVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := counterVecs[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func AddHistogramVec(subsystem, name string, number float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := histogramVecs[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram vec not found", "subsystem", subsystem, "name", name)
}

func AddWebhookEvent(gateway, kind, outcome string) {
	IncCounterVec(SystemWebhook, MetricWebhookEventsTotal, gateway, kind, outcome)
}

func AddEscalationRunDuration(seconds float64, trigger string) {
	AddHistogramVec(SystemEscalation, MetricEscalationRunDuration, seconds, trigger)
}

func AddEscalationStatusChange(level string) {
	IncCounterVec(SystemEscalation, MetricEscalationStatusChangeTotal, level)
}

func AddEscalationNotification(template string) {
	IncCounterVec(SystemEscalation, MetricEscalationNotifyTotal, template)
}
