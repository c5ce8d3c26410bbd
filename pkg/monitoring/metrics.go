package monitoring

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector registers the standard HTTP metrics on the default
// registry, next to the promauto metrics declared by internal packages.
type MetricsCollector struct {
	serviceName string
	registerer  prometheus.Registerer

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	serviceInfo         *prometheus.GaugeVec
}

func NewMetricsCollector(serviceName, version, commit string) *MetricsCollector {
	mc := &MetricsCollector{
		serviceName: strings.ReplaceAll(serviceName, "-", "_"),
		registerer:  prometheus.DefaultRegisterer,
	}

	mc.httpRequestsTotal = mc.NewCounter("http_requests_total", "Total number of HTTP requests", []string{"method", "endpoint", "status"})
	mc.httpRequestDuration = mc.NewHistogram("http_request_duration_seconds", "HTTP request duration in seconds", []string{"method", "endpoint"}, nil)
	mc.serviceInfo = mc.NewGauge("service_info", "Service information", []string{"version", "commit"})
	mc.serviceInfo.WithLabelValues(version, commit).Set(1)

	return mc
}

// MetricsMiddleware records request counts and latency per route.
func (mc *MetricsCollector) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		method := c.Request.Method
		mc.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		mc.httpRequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the default gatherer in the Prometheus exposition format.
func (mc *MetricsCollector) Handler() gin.HandlerFunc {
	var handler http.Handler = promhttp.Handler()
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// NewCounter creates a service-prefixed counter vector.
func (mc *MetricsCollector) NewCounter(name, help string, labels []string) *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: mc.serviceName + "_" + name,
		Help: help,
	}, labels)
	mc.registerer.MustRegister(counter)
	return counter
}

// NewGauge creates a service-prefixed gauge vector.
func (mc *MetricsCollector) NewGauge(name, help string, labels []string) *prometheus.GaugeVec {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: mc.serviceName + "_" + name,
		Help: help,
	}, labels)
	mc.registerer.MustRegister(gauge)
	return gauge
}

// NewHistogram creates a service-prefixed histogram vector. Nil buckets use the
// Prometheus defaults.
func (mc *MetricsCollector) NewHistogram(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    mc.serviceName + "_" + name,
		Help:    help,
		Buckets: buckets,
	}, labels)
	mc.registerer.MustRegister(histogram)
	return histogram
}
