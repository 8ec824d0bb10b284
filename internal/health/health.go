package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"vmail/backend/internal/storage"
)

// DefaultGoroutineLimit 存活检查允许的最大协程数
const DefaultGoroutineLimit = 10000

// checkTimeout 单项就绪检查的超时
const checkTimeout = 3 * time.Second

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	deps   map[string]storage.Pinger
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器，deps 中每一项都会成为一个就绪检查
func NewHealthChecker(deps map[string]storage.Pinger, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		deps:   make(map[string]storage.Pinger, len(deps)),
		logger: logger,
	}
	for name, p := range deps {
		if p != nil {
			hc.deps[name] = p
		}
	}

	hc.addChecks()
	return hc
}

func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(DefaultGoroutineLimit))

	for name, p := range hc.deps {
		hc.health.AddReadinessCheck(name, hc.pingCheck(name, p))
	}
}

func (hc *HealthChecker) pingCheck(name string, p storage.Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			hc.logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			return err
		}
		return nil
	}
}

// Handler 返回健康检查处理器
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveHandler 存活检查
func (hc *HealthChecker) LiveHandler(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyHandler 就绪检查
func (hc *HealthChecker) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 逐项执行依赖检查，返回可读结果
func (hc *HealthChecker) CheckHealth(ctx context.Context) map[string]string {
	names := make([]string, 0, len(hc.deps))
	for name := range hc.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names)+1)
	for _, name := range names {
		if err := hc.deps[name].Ping(ctx); err != nil {
			results[name] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results[name] = "OK"
		}
	}
	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}
