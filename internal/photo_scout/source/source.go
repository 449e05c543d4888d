package source

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"iter"

	"photo-scout/internal/photo_scout/model"
)

var (
	// ErrRateLimited 来源限流（429 等），调用方应退避后重试同一页
	ErrRateLimited = errors.New("photo source rate limited")
	// ErrUnavailable 网络错误、非 2xx 或无法解析的响应
	ErrUnavailable = errors.New("photo source unavailable")
)

// PhotoSource 分页拉取照片记录
type PhotoSource interface {
	// FetchPage 返回惰性序列：开始迭代时才请求列表页，每条详情在消费时才请求。
	// 缺少经纬度的条目被跳过。出错时序列产出一个错误后结束，已产出的记录不撤回。
	FetchPage(ctx context.Context, page, pageSize int, sortOrder string) iter.Seq2[model.PhotoRecord, error]
}

// ContentHash 来源原始 ID 的 md5（小写 hex），作为文档 ID
func ContentHash(rawID string) string {
	sum := md5.Sum([]byte(rawID))
	return hex.EncodeToString(sum[:])
}

// IsRecoverable 判断错误是否应触发退避重试
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}
