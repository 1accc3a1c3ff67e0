package pool

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// WorkerPool 协程池
//
// 用于限制后台任务（持久化、通知）的并发数，避免每封邮件创建一个协程
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan func()
	wg         sync.WaitGroup
	stopOnce   sync.Once
	logger     *zap.Logger
	onPanic    func(r any)
}

// Option 协程池选项
type Option func(*WorkerPool)

// WithLogger 设置 panic 日志
func WithLogger(logger *zap.Logger) Option {
	return func(p *WorkerPool) {
		p.logger = logger
	}
}

// WithPanicHandler 设置 panic 回调（用于计数）
func WithPanicHandler(fn func(r any)) Option {
	return func(p *WorkerPool) {
		p.onPanic = fn
	}
}

// NewWorkerPool 创建协程池
//
// 参数:
//   - maxWorkers: 最大协程数
//   - queueSize: 任务队列大小
func NewWorkerPool(maxWorkers, queueSize int, opts ...Option) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	pool := &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan func(), queueSize),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(pool)
	}

	return pool
}

// Start 启动协程池
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit 提交任务
//
// 如果队列已满，会阻塞直到有空位或 ctx 结束
func (p *WorkerPool) Submit(ctx context.Context, task func()) error {
	select {
	case p.taskQueue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit 尝试提交任务
//
// 如果队列已满，立即返回 false
func (p *WorkerPool) TrySubmit(task func()) bool {
	select {
	case p.taskQueue <- task:
		return true
	default:
		return false
	}
}

// QueueLen 当前排队任务数
func (p *WorkerPool) QueueLen() int {
	return len(p.taskQueue)
}

// Stop 停止协程池，等待已排队任务执行完毕
//
// Stop 之后不能再提交任务
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.taskQueue)
	})
	p.wg.Wait()
}

// worker 工作协程
//
// ctx 结束后不再等待新任务的到来，但会把队列里的任务执行完，直到 Stop 关闭队列。
func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.run(task)
		}
	}
}

// drain 执行剩余任务直到队列关闭
func (p *WorkerPool) drain() {
	for task := range p.taskQueue {
		p.run(task)
	}
}

// run 执行任务（捕获 panic）
func (p *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked", zap.Any("panic", r), zap.Stack("stack"))
			if p.onPanic != nil {
				p.onPanic(r)
			}
		}
	}()
	task()
}
