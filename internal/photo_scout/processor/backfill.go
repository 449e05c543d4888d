package processor

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"photo-scout/internal/photo_scout/scheduler"
	"photo-scout/internal/photo_scout/store"
)

// geoField 地理集合中保存 geohash 的字段，写入目标集合时改名为 geohashField
const (
	geoField     = "g"
	geohashField = "geohash"
)

// Backfill 把 Geo 集合同 id 文档的 g 字段复制到 Spots 集合的 geohash 字段
type Backfill struct {
	Log   *zap.Logger
	Store store.DocumentStore
	Spots string
	Geo   string
	// MaxDelay 相邻两条之间随机等待 [0, MaxDelay]
	MaxDelay time.Duration

	Sleep scheduler.SleepFunc
	Rand  *rand.Rand
}

// BackfillResult 复制与跳过的条数
type BackfillResult struct {
	Copied  int
	Skipped int
}

func NewBackfill(log *zap.Logger, st store.DocumentStore, spots, geo string, maxDelay time.Duration) *Backfill {
	return &Backfill{
		Log:      log,
		Store:    st,
		Spots:    spots,
		Geo:      geo,
		MaxDelay: maxDelay,
		Rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *Backfill) Run(ctx context.Context) (BackfillResult, error) {
	var res BackfillResult
	delay := scheduler.Window{Max: b.MaxDelay}
	sleep := b.Sleep
	if sleep == nil {
		sleep = scheduler.Sleep
	}

	b.Log.Info("Geohash backfill started", zap.String("spots", b.Spots), zap.String("geo", b.Geo))

	first := true
	for spot, err := range b.Store.ListDocuments(ctx, b.Spots) {
		if err != nil {
			return res, fmt.Errorf("list %s: %w", b.Spots, err)
		}
		if !first {
			if err := sleep(ctx, delay.Draw(b.Rand)); err != nil {
				return res, err
			}
		}
		first = false

		geo, err := b.Store.GetDocument(ctx, b.Geo, spot.ID)
		if err != nil {
			return res, fmt.Errorf("get %s/%s: %w", b.Geo, spot.ID, err)
		}
		if geo == nil {
			b.Log.Warn("No geo document for spot", zap.String("id", spot.ID))
			res.Skipped++
			continue
		}
		hash, ok := geo.Fields[geoField].(string)
		if !ok || hash == "" {
			b.Log.Warn("Geo document has no geohash", zap.String("id", spot.ID))
			res.Skipped++
			continue
		}

		if err := b.Store.AddField(ctx, b.Spots, spot.ID, map[string]any{geohashField: hash}); err != nil {
			return res, fmt.Errorf("backfill %s/%s: %w", b.Spots, spot.ID, err)
		}
		b.Log.Debug("Geohash copied", zap.String("id", spot.ID), zap.String("geohash", hash))
		res.Copied++
	}

	b.Log.Info("Geohash backfill completed",
		zap.Int("copied", res.Copied),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}
