package transaction

import (
	"time"

	"go.uber.org/zap"

	"github.com/ASHISH26940/helioscommit/internal/coordinator"
	"github.com/ASHISH26940/helioscommit/internal/metrics"
)

// Config holds the settings shared by every transaction of a manager.
type Config struct {
	Isolation            Isolation
	Strategy             Strategy
	LeaseWindow          time.Duration
	CoordinatorNamespace string
	ParallelPrepare      bool
	ParallelCommit       bool
	MetadataCacheTTL     time.Duration
	MetadataCacheSize    int
	ReadRetries          int
}

func DefaultConfig() Config {
	return Config{
		Isolation:            IsolationSnapshot,
		Strategy:             StrategyExtraRead,
		LeaseWindow:          DefaultLeaseWindow,
		CoordinatorNamespace: coordinator.DefaultNamespace,
		ParallelPrepare:      true,
		ParallelCommit:       true,
		MetadataCacheTTL:     0,
		MetadataCacheSize:    1024,
		ReadRetries:          3,
	}
}

// HandlerOption configures the shared handlers of a manager.
type HandlerOption func(*handlerOptions)

type handlerOptions struct {
	logger      *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	readRetries int
}

func newHandlerOptions(opts []HandlerOption) handlerOptions {
	o := handlerOptions{logger: zap.NewNop(), now: time.Now, readRetries: 3}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithLogger(l *zap.Logger) HandlerOption {
	return func(o *handlerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(o *handlerOptions) { o.metrics = m }
}

// WithClock overrides the wall clock used for prepare times and lease checks.
func WithClock(now func() time.Time) HandlerOption {
	return func(o *handlerOptions) { o.now = now }
}

func withReadRetries(n int) HandlerOption {
	return func(o *handlerOptions) {
		if n > 0 {
			o.readRetries = n
		}
	}
}
