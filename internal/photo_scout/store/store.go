package store

import (
	"context"
	"errors"
	"iter"
	"strconv"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrStoreWrite       = errors.New("store write failed")
)

// Document 一条文档：ID + 字段
type Document struct {
	ID     string
	Fields map[string]any
}

// Op 比较运算
type Op string

const (
	OpEq  Op = "=="
	OpNe  Op = "!="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
	// OpIn / OpNin 的 Value 为 []any
	OpIn  Op = "in"
	OpNin Op = "nin"
)

// Predicate 单个过滤条件，多个条件之间为 AND。Field 为 "id" 时匹配文档 ID。
type Predicate struct {
	Field string
	Op    Op
	Value any
}

// Where 构造 Predicate
func Where(field string, op Op, value any) Predicate {
	return Predicate{Field: field, Op: op, Value: value}
}

// WhereText 由文本（查询串、命令行）构造条件。
// 数字和 true/false 按字面还原；== 和 != 同时比较还原值与原始字符串，
// 使字段值为 "12345" 这类字符串时也能匹配。
func WhereText(field string, op Op, raw string) Predicate {
	v := parseLiteral(raw)
	if _, ok := v.(string); ok {
		return Where(field, op, raw)
	}
	switch op {
	case OpEq:
		return Where(field, OpIn, []any{v, raw})
	case OpNe:
		return Where(field, OpNin, []any{v, raw})
	}
	return Where(field, op, v)
}

func parseLiteral(v string) any {
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}

// DocumentStore 文档存储
type DocumentStore interface {
	// Upsert 整体覆盖 id 对应的文档（不存在则创建）；id 为空时由存储生成，返回最终 id。
	Upsert(ctx context.Context, collection, id string, fields map[string]any) (string, error)

	// AddField 把 fields 合并进已有文档，不影响其他字段。文档不存在返回 ErrDocumentNotFound。
	AddField(ctx context.Context, collection, id string, fields map[string]any) error

	// GetDocument 按 id 读取，不存在时返回 nil, nil。
	GetDocument(ctx context.Context, collection, id string) (*Document, error)

	// ListDocuments 流式遍历整个集合（按 id 升序）。
	ListDocuments(ctx context.Context, collection string) iter.Seq2[Document, error]

	// Query 按条件过滤，条件下推给存储执行。
	Query(ctx context.Context, collection string, predicates ...Predicate) iter.Seq2[Document, error]
}
