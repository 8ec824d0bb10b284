package smtp

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPLimiter 按来源 IP 限制新建会话速率（令牌桶）
type IPLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPLimiter 创建限流器
//
// 参数:
//   - perMinute: 每个 IP 每分钟允许的会话数，<= 0 表示不限制
func NewIPLimiter(perMinute int) *IPLimiter {
	if perMinute <= 0 {
		return &IPLimiter{limit: rate.Inf}
	}
	return &IPLimiter{
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    perMinute,
		visitors: make(map[string]*visitor),
	}
}

// Allow 检查该 IP 是否还有可用令牌
func (l *IPLimiter) Allow(ip string) bool {
	if l.limit == rate.Inf {
		return true
	}

	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	l.mu.Unlock()

	return v.limiter.Allow()
}

// Cleanup 清理超过 idle 未出现的 IP，返回清理数量
func (l *IPLimiter) Cleanup(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-idle)
	for ip, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, ip)
			removed++
		}
	}
	return removed
}

// Len 当前跟踪的 IP 数
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}
