// Package storetest 提供测试用的内存 DocumentStore。
package storetest

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"photo-scout/internal/photo_scout/store"
)

// Memory 内存实现，语义与 MongoStore 一致；可注入写失败
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]any

	// FailWrites 非 nil 时 Upsert/AddField 返回该错误（包装为 ErrStoreWrite）
	FailWrites error
	// Writes 记录每次成功的 Upsert：collection/id
	Writes []string
}

func NewMemory() *Memory {
	return &Memory{collections: map[string]map[string]map[string]any{}}
}

// Seed 直接写入一条文档，不计入 Writes
func (m *Memory) Seed(collection, id string, fields map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coll(collection)[id] = copyMap(fields)
}

// Snapshot 返回集合的拷贝
func (m *Memory) Snapshot(collection string) map[string]map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]map[string]any, len(m.collections[collection]))
	for id, f := range m.collections[collection] {
		out[id] = copyMap(f)
	}
	return out
}

func (m *Memory) Upsert(_ context.Context, collection, id string, fields map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return "", fmt.Errorf("%w: %v", store.ErrStoreWrite, m.FailWrites)
	}
	if id == "" {
		id = uuid.NewString()
	}
	m.coll(collection)[id] = copyMap(fields)
	m.Writes = append(m.Writes, collection+"/"+id)
	return id, nil
}

func (m *Memory) AddField(_ context.Context, collection, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return fmt.Errorf("%w: %v", store.ErrStoreWrite, m.FailWrites)
	}
	doc, ok := m.coll(collection)[id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", store.ErrDocumentNotFound, collection, id)
	}
	for k, v := range fields {
		doc[k] = v
	}
	return nil
}

func (m *Memory) GetDocument(_ context.Context, collection, id string) (*store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.coll(collection)[id]
	if !ok {
		return nil, nil
	}
	return &store.Document{ID: id, Fields: copyMap(doc)}, nil
}

func (m *Memory) ListDocuments(ctx context.Context, collection string) iter.Seq2[store.Document, error] {
	return m.Query(ctx, collection)
}

func (m *Memory) Query(ctx context.Context, collection string, predicates ...store.Predicate) iter.Seq2[store.Document, error] {
	return func(yield func(store.Document, error) bool) {
		m.mu.Lock()
		ids := slices.Sorted(maps.Keys(m.coll(collection)))
		m.mu.Unlock()

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(store.Document{}, err)
				return
			}
			doc, err := m.GetDocument(ctx, collection, id)
			if err != nil || doc == nil {
				continue
			}
			ok, err := matches(doc, predicates)
			if err != nil {
				yield(store.Document{}, err)
				return
			}
			if ok && !yield(*doc, nil) {
				return
			}
		}
	}
}

func (m *Memory) coll(name string) map[string]map[string]any {
	c, ok := m.collections[name]
	if !ok {
		c = map[string]map[string]any{}
		m.collections[name] = c
	}
	return c
}

func matches(doc *store.Document, predicates []store.Predicate) (bool, error) {
	for _, p := range predicates {
		var got any
		if p.Field == "id" {
			got = doc.ID
		} else {
			v, ok := lookup(doc.Fields, p.Field)
			if !ok {
				return false, nil
			}
			got = v
		}
		if p.Op == store.OpIn || p.Op == store.OpNin {
			list, ok := p.Value.([]any)
			if !ok {
				return false, fmt.Errorf("operator %q on %s needs a list value", p.Op, p.Field)
			}
			if contains(list, got) != (p.Op == store.OpIn) {
				return false, nil
			}
			continue
		}
		c, comparable := compare(got, p.Value)
		switch p.Op {
		case store.OpEq:
			if !comparable || c != 0 {
				return false, nil
			}
		case store.OpNe:
			if comparable && c == 0 {
				return false, nil
			}
		case store.OpLt, store.OpLte, store.OpGt, store.OpGte:
			if !comparable {
				return false, nil
			}
			if (p.Op == store.OpLt && c >= 0) || (p.Op == store.OpLte && c > 0) ||
				(p.Op == store.OpGt && c <= 0) || (p.Op == store.OpGte && c < 0) {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported operator %q on %s", p.Op, p.Field)
		}
	}
	return true, nil
}

// lookup 按点号路径取嵌套字段，与 Mongo 的 "location.city" 写法一致
func lookup(fields map[string]any, path string) (any, bool) {
	var cur any = fields
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func contains(list []any, v any) bool {
	for _, item := range list {
		if c, ok := compare(v, item); ok && c == 0 {
			return true
		}
	}
	return false
}

func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1, true
			case av > bv:
				return 1, true
			}
			return 0, true
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok && av == bv {
			return 0, true
		} else if ok {
			return 1, true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// copyMap 递归拷贝嵌套 map，避免调用方修改存储内容
func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			out[k] = copyMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
