package smtp

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const rejectMessage = "421 4.7.0 Too many connections, try again later\r\n"

// ConnectionLimiter SMTP 连接限流器
type ConnectionLimiter struct {
	maxConns int
	current  int
	mu       sync.Mutex
	rate     *rate.Limiter
}

// NewConnectionLimiter 创建连接限流器
//
// 参数:
//   - maxConns: 最大并发连接数，<= 0 表示不限
//   - maxRate: 每秒最大新建连接数，<= 0 表示不限
func NewConnectionLimiter(maxConns, maxRate int) *ConnectionLimiter {
	limit := rate.Inf
	burst := 0
	if maxRate > 0 {
		limit = rate.Limit(maxRate)
		burst = maxRate
	}
	return &ConnectionLimiter{
		maxConns: maxConns,
		rate:     rate.NewLimiter(limit, burst),
	}
}

// Acquire 获取连接许可
func (l *ConnectionLimiter) Acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxConns > 0 && l.current >= l.maxConns {
		return false
	}
	if !l.rate.Allow() {
		return false
	}

	l.current++
	return true
}

// Release 释放连接
func (l *ConnectionLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current > 0 {
		l.current--
	}
}

// Current 当前连接数
func (l *ConnectionLimiter) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Listener 在 Accept 时执行限流，超限的连接收到 421 后立即关闭
type Listener struct {
	net.Listener
	limiter  *ConnectionLimiter
	logger   *zap.Logger
	onReject func()
}

// NewListener 包装监听器
func NewListener(ln net.Listener, limiter *ConnectionLimiter, logger *zap.Logger, onReject func()) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		Listener: ln,
		limiter:  limiter,
		logger:   logger,
		onReject: onReject,
	}
}

// Accept 返回下一个被允许的连接
func (l *Listener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		if l.limiter.Acquire() {
			return &limitedConn{Conn: conn, release: l.limiter.Release}, nil
		}

		l.logger.Warn("smtp connection rejected by limiter", zap.String("remote_addr", conn.RemoteAddr().String()))
		if l.onReject != nil {
			l.onReject()
		}
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_, _ = conn.Write([]byte(rejectMessage))
		conn.Close()
	}
}

type limitedConn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *limitedConn) Close() error {
	c.once.Do(c.release)
	return c.Conn.Close()
}
