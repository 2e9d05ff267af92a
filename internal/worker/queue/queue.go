// Package queue はチャット投稿やOCRなど外部への副作用を持つ処理を
// リクエスト経路の外で実行するプロセス内ワーカーキューを提供する。
// タスクは1つのワーカーゴルーチンが投入順に実行する。永続化はしない。
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull はキューの容量を超えてタスクを投入しようとした場合のエラー。
var ErrQueueFull = errors.New("worker queue is full")

// defaultSize はキュー容量が指定されない場合のデフォルト値。
const defaultSize = 1024

// TaskFunc はワーカーで実行される処理。
type TaskFunc func(ctx context.Context) error

// Task はキューに投入された1件の処理。
type Task struct {
	ID         uuid.UUID
	Name       string
	Fn         TaskFunc
	EnqueuedAt time.Time
}

// Enqueuer はタスク投入のインターフェース。サービス層はこのインターフェースに依存する。
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, fn TaskFunc) error
}

// PanicReporter はタスク内で発生したpanicを運用チャンネルへ通知する関数。
type PanicReporter func(ctx context.Context, task Task, recovered any, stack []byte)

// Metrics はキューが記録するメトリクスのインターフェース。
type Metrics interface {
	RecordWorkerTask(result string)
	RecordWorkerPanic()
}

// Queue は単一ワーカーで消費されるタスクキュー。
type Queue struct {
	tasks       chan Task
	logger      *slog.Logger
	metrics     Metrics
	reportPanic PanicReporter
	synchronous bool
}

// Option はQueueのオプション設定関数。
type Option func(*Queue)

// WithSynchronous はタスクをキューに積まず、Enqueueの呼び出し内で即時実行するモードを設定する。
// テストや単一プロセスのデバッグで使用する。
func WithSynchronous(sync bool) Option {
	return func(q *Queue) {
		q.synchronous = sync
	}
}

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// WithPanicReporter はpanic発生時の通知先を設定する。
func WithPanicReporter(fn PanicReporter) Option {
	return func(q *Queue) {
		q.reportPanic = fn
	}
}

// New はQueueを生成する。sizeが0以下の場合はデフォルト値1024を使用する。
func New(size int, logger *slog.Logger, opts ...Option) *Queue {
	if size <= 0 {
		size = defaultSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		tasks:  make(chan Task, size),
		logger: logger,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue はタスクをキューに投入する。ブロックはせず、満杯の場合はErrQueueFullを返す。
// 同期モードではその場でタスクを実行し、タスクのエラーはログに記録するのみとする。
func (q *Queue) Enqueue(ctx context.Context, name string, fn TaskFunc) error {
	task := Task{
		ID:         uuid.New(),
		Name:       name,
		Fn:         fn,
		EnqueuedAt: time.Now(),
	}

	if q.synchronous {
		q.execute(ctx, task)
		return nil
	}

	select {
	case q.tasks <- task:
		return nil
	default:
		q.logger.Error("ワーカーキューが満杯のためタスクを破棄しました",
			slog.String("task", name),
			slog.Int("capacity", cap(q.tasks)),
		)
		if q.metrics != nil {
			q.metrics.RecordWorkerTask("dropped")
		}
		return ErrQueueFull
	}
}

// Len はキューに滞留しているタスク数を返す。
func (q *Queue) Len() int {
	return len(q.tasks)
}

// Run はコンテキストがキャンセルされるまでタスクを投入順に実行する。
// キャンセル後はその時点でキューに残っているタスクを実行してから戻る。
func (q *Queue) Run(ctx context.Context) {
	q.logger.Info("ワーカーキューを開始しました", slog.Int("capacity", cap(q.tasks)))

	for {
		select {
		case <-ctx.Done():
			q.drain(context.WithoutCancel(ctx))
			q.logger.Info("ワーカーキューを停止しました")
			return
		case task := <-q.tasks:
			q.execute(ctx, task)
		}
	}
}

func (q *Queue) drain(ctx context.Context) {
	for {
		select {
		case task := <-q.tasks:
			q.execute(ctx, task)
		default:
			return
		}
	}
}

// execute はタスクを1件実行する。panicは捕捉して通知し、呼び出し元には伝播させない。
func (q *Queue) execute(ctx context.Context, task Task) {
	start := time.Now()
	err := q.safeCall(ctx, task)

	attrs := []any{
		slog.String("task", task.Name),
		slog.String("task_id", task.ID.String()),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	}

	switch {
	case errors.Is(err, errPanicked):
		// 通知とログはsafeCall内で済んでいる
	case err != nil:
		q.logger.Error("ワーカータスクが失敗しました", append(attrs, slog.String("error", err.Error()))...)
		q.record("error")
	default:
		q.logger.Debug("ワーカータスクが完了しました", attrs...)
		q.record("success")
	}
}

var errPanicked = errors.New("task panicked")

func (q *Queue) safeCall(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			q.logger.Error("ワーカータスクでpanicが発生しました",
				slog.String("task", task.Name),
				slog.String("task_id", task.ID.String()),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(stack)),
			)
			q.record("panic")
			if q.metrics != nil {
				q.metrics.RecordWorkerPanic()
			}
			if q.reportPanic != nil {
				q.notifyPanic(ctx, task, r, stack)
			}
			err = errPanicked
		}
	}()
	return task.Fn(ctx)
}

// notifyPanic は通知処理自体のpanicでワーカーが停止しないように保護する。
func (q *Queue) notifyPanic(ctx context.Context, task Task, recovered any, stack []byte) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("panic通知に失敗しました", slog.String("panic", fmt.Sprint(r)))
		}
	}()
	q.reportPanic(ctx, task, recovered, stack)
}

func (q *Queue) record(result string) {
	if q.metrics != nil {
		q.metrics.RecordWorkerTask(result)
	}
}

// compile-time interface check
var _ Enqueuer = (*Queue)(nil)
