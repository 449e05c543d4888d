package store

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoStore 基于 MongoDB 的 DocumentStore，文档 _id 为字符串
type MongoStore struct {
	db  *mongo.Database
	log *zap.Logger
}

func NewMongoStore(db *mongo.Database, log *zap.Logger) *MongoStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &MongoStore{db: db, log: log}
}

func (s *MongoStore) Upsert(ctx context.Context, collection, id string, fields map[string]any) (string, error) {
	coll := s.db.Collection(collection)
	doc := withoutID(fields)

	if id == "" {
		id = uuid.NewString()
		doc["_id"] = id
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			return "", fmt.Errorf("%w: insert %s/%s: %v", ErrStoreWrite, collection, id, err)
		}
		return id, nil
	}

	// 整体覆盖，不做字段合并
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return "", fmt.Errorf("%w: replace %s/%s: %v", ErrStoreWrite, collection, id, err)
	}
	return id, nil
}

func (s *MongoStore) AddField(ctx context.Context, collection, id string, fields map[string]any) error {
	res, err := s.db.Collection(collection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": withoutID(fields)},
	)
	if err != nil {
		return fmt.Errorf("%w: update %s/%s: %v", ErrStoreWrite, collection, id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, collection, id)
	}
	return nil
}

func (s *MongoStore) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	doc := toDocument(raw)
	return &doc, nil
}

func (s *MongoStore) ListDocuments(ctx context.Context, collection string) iter.Seq2[Document, error] {
	return s.find(ctx, collection, bson.D{})
}

func (s *MongoStore) Query(ctx context.Context, collection string, predicates ...Predicate) iter.Seq2[Document, error] {
	filter, err := buildFilter(predicates)
	if err != nil {
		return func(yield func(Document, error) bool) {
			yield(Document{}, err)
		}
	}
	return s.find(ctx, collection, filter)
}

func (s *MongoStore) find(ctx context.Context, collection string, filter bson.D) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		cur, err := s.db.Collection(collection).Find(ctx, filter,
			options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
		if err != nil {
			yield(Document{}, fmt.Errorf("find in %s: %w", collection, err))
			return
		}
		defer func(cur *mongo.Cursor, ctx context.Context) {
			if err := cur.Close(ctx); err != nil {
				s.log.Warn("Failed to close cursor", zap.String("collection", collection), zap.Error(err))
			}
		}(cur, ctx)

		for cur.Next(ctx) {
			var raw bson.M
			if err := cur.Decode(&raw); err != nil {
				yield(Document{}, fmt.Errorf("decode document in %s: %w", collection, err))
				return
			}
			if !yield(toDocument(raw), nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(Document{}, fmt.Errorf("iterate %s: %w", collection, err))
		}
	}
}

var mongoOps = map[Op]string{
	OpEq:  "$eq",
	OpNe:  "$ne",
	OpLt:  "$lt",
	OpLte: "$lte",
	OpGt:  "$gt",
	OpGte: "$gte",
	OpIn:  "$in",
	OpNin: "$nin",
}

// buildFilter 把条件转成 {$and: [{field: {$op: value}}, ...]}
func buildFilter(predicates []Predicate) (bson.D, error) {
	if len(predicates) == 0 {
		return bson.D{}, nil
	}
	clauses := make(bson.A, 0, len(predicates))
	for _, p := range predicates {
		op, ok := mongoOps[p.Op]
		if !ok {
			return nil, fmt.Errorf("unsupported operator %q on %s", p.Op, p.Field)
		}
		if p.Op == OpIn || p.Op == OpNin {
			if _, ok := p.Value.([]any); !ok {
				return nil, fmt.Errorf("operator %q on %s needs a list value", p.Op, p.Field)
			}
		}
		field := p.Field
		if field == "id" {
			field = "_id"
		}
		clauses = append(clauses, bson.D{{Key: field, Value: bson.D{{Key: op, Value: p.Value}}}})
	}
	if len(clauses) == 1 {
		return clauses[0].(bson.D), nil
	}
	return bson.D{{Key: "$and", Value: clauses}}, nil
}

func toDocument(raw bson.M) Document {
	var id string
	switch v := raw["_id"].(type) {
	case string:
		id = v
	case primitive.ObjectID:
		id = v.Hex()
	default:
		id = fmt.Sprint(v)
	}
	delete(raw, "_id")
	return Document{ID: id, Fields: map[string]any(raw)}
}

func withoutID(fields map[string]any) bson.M {
	out := make(bson.M, len(fields)+1)
	for k, v := range fields {
		if k == "_id" {
			continue
		}
		out[k] = v
	}
	return out
}
