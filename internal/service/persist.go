package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/pool"
)

// Sink 持久化存储
//
// 只写不读，写失败不影响投递。
type Sink interface {
	Write(ctx context.Context, msg *domain.StoredMessage) error
	Ping(ctx context.Context) error
	Close() error
}

const defaultPersistTimeout = 10 * time.Second

// PersistDispatcher 把已投递的邮件异步写入 Sink
//
// 队列满时直接丢弃并计数。nil 接收者上的方法都是空操作。
type PersistDispatcher struct {
	sink    Sink
	pool    *pool.WorkerPool
	timeout time.Duration
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewPersistDispatcher 创建持久化分发器，sink 为 nil 时返回 nil
func NewPersistDispatcher(sink Sink, workers, queueSize int, logger *zap.Logger, metrics *monitoring.Metrics) *PersistDispatcher {
	if sink == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PersistDispatcher{
		sink: sink,
		pool: pool.NewWorkerPool(workers, queueSize,
			pool.WithLogger(logger),
			pool.WithPanicHandler(func(any) { metrics.RecordPanic() }),
		),
		timeout: defaultPersistTimeout,
		logger:  logger,
		metrics: metrics,
	}
}

// Start 启动写入协程
func (d *PersistDispatcher) Start(ctx context.Context) {
	if d == nil {
		return
	}
	d.pool.Start(ctx)
}

// Dispatch 提交一封邮件，返回是否入队
func (d *PersistDispatcher) Dispatch(inboxID string, msg *domain.Message) bool {
	if d == nil {
		return false
	}
	record := domain.NewStoredMessage(uuid.NewString(), inboxID, msg)

	ok := d.pool.TrySubmit(func() {
		d.write(record)
	})
	if !ok {
		d.metrics.RecordPersist("dropped")
		d.logger.Warn("persist queue full, dropping record",
			zap.String("mailbox_id", inboxID),
			zap.String("record_id", record.ID))
	}
	return ok
}

func (d *PersistDispatcher) write(record *domain.StoredMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sink.Write(ctx, record); err != nil {
		d.metrics.RecordPersist("error")
		d.logger.Error("failed to persist message",
			zap.String("mailbox_id", record.InboxID),
			zap.String("record_id", record.ID),
			zap.Error(err))
		return
	}
	d.metrics.RecordPersist("ok")
}

// Ping 检查 Sink 是否可用
func (d *PersistDispatcher) Ping(ctx context.Context) error {
	if d == nil {
		return nil
	}
	return d.sink.Ping(ctx)
}

// Stop 等待排队的写入完成后关闭 Sink
func (d *PersistDispatcher) Stop() error {
	if d == nil {
		return nil
	}
	d.pool.Stop()
	return d.sink.Close()
}
