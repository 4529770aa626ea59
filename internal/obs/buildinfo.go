package obs

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Build identifies the running binary.
type Build struct {
	Version     string
	Commit      string
	Environment string
}

var (
	buildOnce sync.Once

	buildGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tenantgate_build_info",
			Help: "Always 1; labels describe the running tenantgate build.",
		},
		[]string{"version", "commit", "environment", "go_version"},
	)
)

// Publish exposes the build as tenantgate_build_info and returns the fields
// logged with the startup line.
func (b Build) Publish() []zap.Field {
	b = b.withDefaults()
	buildOnce.Do(func() { prometheus.MustRegister(buildGauge) })
	buildGauge.Reset()
	buildGauge.WithLabelValues(b.Version, b.Commit, b.Environment, runtime.Version()).Set(1)
	return []zap.Field{
		zap.String("version", b.Version),
		zap.String("commit", b.Commit),
		zap.String("go_version", runtime.Version()),
	}
}

func (b Build) withDefaults() Build {
	if b.Version == "" {
		b.Version = "dev"
	}
	if b.Commit == "" {
		b.Commit = "unknown"
	}
	return b
}
