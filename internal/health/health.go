package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

const (
	checkTimeout      = 2 * time.Second
	maxGoroutineCount = 10000
)

// Pinger 可探测的依赖（日志存储、持久化存储）
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	deps   map[string]Pinger
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
//
// 存活检查只看协程数，就绪检查探测每个依赖。
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		deps:   make(map[string]Pinger),
		logger: logger,
	}
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutineCount))
	return hc
}

// AddDependency 注册就绪检查依赖，nil 会被忽略
func (hc *HealthChecker) AddDependency(name string, dep Pinger) {
	if dep == nil {
		return
	}
	hc.deps[name] = dep
	hc.health.AddReadinessCheck(name, PingCheck(dep))
}

// PingCheck 把 Pinger 转换为带超时的检查
func PingCheck(dep Pinger) healthcheck.Check {
	return healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		return dep.Ping(ctx)
	}, checkTimeout+time.Second)
}

// LiveHandler 存活检查处理器
func (hc *HealthChecker) LiveHandler() http.Handler {
	return http.HandlerFunc(hc.health.LiveEndpoint)
}

// ReadyHandler 就绪检查处理器
func (hc *HealthChecker) ReadyHandler() http.Handler {
	return http.HandlerFunc(hc.health.ReadyEndpoint)
}

// CheckHealth 执行健康检查
func (hc *HealthChecker) CheckHealth(ctx context.Context) (map[string]string, bool) {
	results := make(map[string]string, len(hc.deps)+1)
	healthy := true

	for name, dep := range hc.deps {
		pingCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := dep.Ping(pingCtx)
		cancel()
		if err != nil {
			healthy = false
			results[name] = fmt.Sprintf("ERROR: %v", err)
			hc.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			continue
		}
		results[name] = "OK"
	}
	results["timestamp"] = time.Now().Format(time.RFC3339)

	return results, healthy
}
