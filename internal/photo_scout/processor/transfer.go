package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"photo-scout/internal/photo_scout/codec"
	"photo-scout/internal/photo_scout/store"
)

var ErrFileIO = errors.New("transfer file error")

// Transfer 集合 <-> <Dir>/<collection>.json 的导出与导入
type Transfer struct {
	Log   *zap.Logger
	Store store.DocumentStore
	Dir   string
	// Schema 导入时的字段类型声明，为空时使用 codec.PhotoSchema
	Schema codec.Schema
}

func NewTransfer(log *zap.Logger, st store.DocumentStore, dir string) *Transfer {
	return &Transfer{Log: log, Store: st, Dir: dir, Schema: codec.PhotoSchema}
}

// Path 集合对应的导出文件
func (t *Transfer) Path(collection string) string {
	return filepath.Join(t.Dir, collection+".json")
}

// Export 把集合（或满足 predicates 的子集）写成 id -> fields 的 JSON 对象，返回导出条数
func (t *Transfer) Export(ctx context.Context, collection string, predicates ...store.Predicate) (int, error) {
	docs := t.Store.ListDocuments(ctx, collection)
	if len(predicates) > 0 {
		docs = t.Store.Query(ctx, collection, predicates...)
	}

	out := make(map[string]any)
	for doc, err := range docs {
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", collection, err)
		}
		encoded, err := codec.EncodeFields(doc.Fields)
		if err != nil {
			return 0, fmt.Errorf("encode %s/%s: %w", collection, doc.ID, err)
		}
		out[doc.ID] = encoded
	}

	// map 的 key 由 encoding/json 排序输出
	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return 0, fmt.Errorf("marshal %s: %w", collection, err)
	}
	if err := os.MkdirAll(t.Dir, 0o755); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFileIO, err)
	}
	path := t.Path(collection)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFileIO, err)
	}

	t.Log.Info("Collection exported",
		zap.String("collection", collection),
		zap.String("path", path),
		zap.Int("count", len(out)),
	)
	return len(out), nil
}

// Import 读取导出文件，按记录的 id 升序逐条覆盖写入，返回写入条数
func (t *Transfer) Import(ctx context.Context, collection string) (int, error) {
	path := t.Path(collection)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFileIO, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]map[string]any
	if err := dec.Decode(&raw); err != nil {
		return 0, fmt.Errorf("%w: parse %s: %v", ErrFileIO, path, err)
	}

	schema := t.Schema
	if schema == nil {
		schema = codec.PhotoSchema
	}

	imported := 0
	for _, id := range slices.Sorted(maps.Keys(raw)) {
		if err := ctx.Err(); err != nil {
			return imported, err
		}
		fields, err := codec.DecodeFields(raw[id], schema)
		if err != nil {
			return imported, fmt.Errorf("decode %s/%s: %w", collection, id, err)
		}
		if _, err := t.Store.Upsert(ctx, collection, id, fields); err != nil {
			return imported, fmt.Errorf("import %s/%s: %w", collection, id, err)
		}
		imported++
	}

	t.Log.Info("Collection imported",
		zap.String("collection", collection),
		zap.String("path", path),
		zap.Int("count", imported),
	)
	return imported, nil
}
