package catalog

import "github.com/prometheus/client_golang/prometheus"

const (
	uploadOK    = "ok"
	uploadError = "error"
)

type Metrics struct {
	ProductsCreated      prometheus.Counter
	ProductsDeleted      prometheus.Counter
	ImageUploads         *prometheus.CounterVec
	ImageCleanupFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProductsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shop_products_created_total",
			Help: "Products added to the catalog",
		}),
		ProductsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shop_products_deleted_total",
			Help: "Products removed from the catalog",
		}),
		ImageUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_image_uploads_total",
			Help: "Image uploads by result",
		}, []string{"result"}),
		ImageCleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shop_image_cleanup_failures_total",
			Help: "Best-effort image deletions that failed",
		}),
	}

	reg.MustRegister(m.ProductsCreated, m.ProductsDeleted, m.ImageUploads, m.ImageCleanupFailures)
	return m
}

func (m *Metrics) created() {
	if m != nil {
		m.ProductsCreated.Inc()
	}
}

func (m *Metrics) deleted() {
	if m != nil {
		m.ProductsDeleted.Inc()
	}
}

func (m *Metrics) upload(result string) {
	if m != nil {
		m.ImageUploads.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) cleanupFailed() {
	if m != nil {
		m.ImageCleanupFailures.Inc()
	}
}
