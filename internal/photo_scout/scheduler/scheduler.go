package scheduler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"photo-scout/internal/photo_scout/model"
	"photo-scout/internal/photo_scout/source"
	"photo-scout/internal/photo_scout/store"
)

// State 采集循环所处的状态
type State string

const (
	Fetching   State = "FETCHING"
	Writing    State = "WRITING"
	BackingOff State = "BACKING_OFF"
	Advancing  State = "ADVANCING"
)

type Config struct {
	Collection string
	StartPage  int
	PageSize   int
	SortOrder  string
	// Advance 每页写完后的等待区间
	Advance Window
	// Backoff 来源报错（限流/不可用）后的等待区间，之后重试同一页
	Backoff Window
}

// Status 供状态接口读取的快照
type Status struct {
	State          State      `json:"state"`
	Page           int        `json:"page"`
	PagesDone      int        `json:"pages_done"`
	RecordsWritten int        `json:"records_written"`
	Backoffs       int        `json:"backoffs"`
	LastError      string     `json:"last_error,omitempty"`
	NextWake       *time.Time `json:"next_wake,omitempty"` // 仅在等待中时非空
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Worker 无限分页采集：拉取 -> 写入 -> 等待 -> 下一页
type Worker struct {
	Log    *zap.Logger
	Source source.PhotoSource
	Store  store.DocumentStore
	Config Config

	// Sleep 为空时使用 scheduler.Sleep；测试可替换
	Sleep SleepFunc
	Rand  *rand.Rand

	mu     sync.Mutex
	status Status
}

func NewWorker(log *zap.Logger, src source.PhotoSource, st store.DocumentStore, cfg Config) *Worker {
	return &Worker{
		Log:    log,
		Source: src,
		Store:  st,
		Config: cfg,
		Rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run 从 Config.StartPage 开始循环，直到 ctx 取消（返回 ctx.Err()）或写库失败。
// 只有来源错误会退避重试；其他错误直接返回。
func (w *Worker) Run(ctx context.Context) error {
	page := w.Config.StartPage
	if page < 1 {
		page = 1
	}
	state := Fetching
	var pending iter.Seq2[model.PhotoRecord, error]
	w.setStatus(func(s *Status) { s.Page = page })

	w.Log.Info("Ingestion cycle started",
		zap.String("collection", w.Config.Collection),
		zap.Int("page", page),
	)

	for {
		if err := ctx.Err(); err != nil {
			w.Log.Info("Ingestion cycle stopped", zap.Int("page", page), zap.String("state", string(state)))
			return err
		}
		w.setStatus(func(s *Status) { s.State = state; s.Page = page })

		switch state {
		case Fetching:
			w.Log.Info("Retrieving photos", zap.Int("page", page))
			pending = w.Source.FetchPage(ctx, page, w.Config.PageSize, w.Config.SortOrder)
			state = Writing

		case Writing:
			written, err := w.writePage(ctx, pending)
			pending = nil
			w.setStatus(func(s *Status) { s.RecordsWritten += written })
			switch {
			case err == nil:
				w.Log.Info("Page written", zap.Int("page", page), zap.Int("records", written))
				w.setStatus(func(s *Status) { s.PagesDone++; s.LastError = "" })
				state = Advancing
			case source.IsRecoverable(err):
				w.Log.Warn("Photo source error, backing off",
					zap.Int("page", page),
					zap.Int("written", written),
					zap.Error(err),
				)
				w.setStatus(func(s *Status) { s.LastError = err.Error() })
				state = BackingOff
			case ctx.Err() != nil:
				// 下一轮循环顶部返回
			default:
				w.Log.Error("Ingestion cycle failed", zap.Int("page", page), zap.Error(err))
				w.setStatus(func(s *Status) { s.LastError = err.Error() })
				return err
			}

		case BackingOff:
			d := w.Config.Backoff.Draw(w.Rand)
			w.Log.Info("Waiting to avoid rate limiting",
				zap.Int("page", page),
				zap.Duration("delay", d),
			)
			w.setStatus(func(s *Status) { s.Backoffs++ })
			if err := w.sleep(ctx, d); err != nil {
				continue
			}
			state = Fetching

		case Advancing:
			page++
			d := w.Config.Advance.Draw(w.Rand)
			w.Log.Info("Advancing to next page",
				zap.Int("page", page),
				zap.Duration("delay", d),
			)
			w.setStatus(func(s *Status) { s.Page = page })
			if err := w.sleep(ctx, d); err != nil {
				continue
			}
			state = Fetching

		default:
			return fmt.Errorf("unknown cycle state %q", state)
		}
	}
}

// writePage 逐条消费惰性页面并按记录 ID 覆盖写入
func (w *Worker) writePage(ctx context.Context, page iter.Seq2[model.PhotoRecord, error]) (int, error) {
	if page == nil {
		return 0, errors.New("no page to write")
	}
	written := 0
	for rec, err := range page {
		if err != nil {
			return written, err
		}
		if _, err := w.Store.Upsert(ctx, w.Config.Collection, rec.ID, rec.Fields()); err != nil {
			return written, fmt.Errorf("write photo %s: %w", rec.ID, err)
		}
		w.Log.Debug("Photo document written", zap.String("id", rec.ID), zap.String("rawId", rec.RawID))
		written++
	}
	return written, nil
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) error {
	wake := time.Now().Add(d).UTC()
	w.setStatus(func(s *Status) { s.NextWake = &wake })
	defer w.setStatus(func(s *Status) { s.NextWake = nil })
	if w.Sleep != nil {
		return w.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Status 返回当前状态快照
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) setStatus(update func(*Status)) {
	w.mu.Lock()
	update(&w.status)
	w.status.UpdatedAt = time.Now().UTC()
	w.mu.Unlock()
}
