package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/docflow/workflow"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Mongo 集合名
const (
	MongoRoutesCollection    = "workflow_routes"
	MongoInstancesCollection = "workflow_instances"
	mongoCountersCollection  = "docflow_counters"
)

// MongoClientOptions 返回引擎推荐的客户端配置：沿用 json 标签作为字段名，
// 嵌套文档解码为 map 以保持 Metadata 的形态。
func MongoClientOptions(uri string) *options.ClientOptions {
	return options.Client().ApplyURI(uri).SetBSONOptions(&options.BSONOptions{
		UseJSONStructTags: true,
		DefaultDocumentM:  true,
	})
}

type routeDoc struct {
	ID           string                  `bson:"_id"`
	Seq          int64                   `bson:"seq"`
	DocumentType string                  `bson:"document_type"`
	IsActive     bool                    `bson:"is_active"`
	Route        *workflow.WorkflowRoute `bson:"route"`
}

type instanceDoc struct {
	ID              string                     `bson:"_id"`
	Seq             int64                      `bson:"seq"`
	Status          string                     `bson:"status"`
	WorkflowRouteID string                     `bson:"workflow_route_id"`
	DocumentID      string                     `bson:"document_id"`
	Version         int                        `bson:"version"`
	Instance        *workflow.WorkflowInstance `bson:"instance"`
}

func (d *instanceDoc) instance() *workflow.WorkflowInstance {
	inst := d.Instance
	if inst == nil {
		inst = &workflow.WorkflowInstance{ID: d.ID}
	}
	inst.Version = d.Version
	return inst
}

// nextSeq 计数器集合分配单调递增的插入序号
func nextSeq(ctx context.Context, db *mongo.Database, name string) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}
	err := db.Collection(mongoCountersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sequence: %w", err)
	}
	return counter.Value, nil
}

var bySeq = bson.D{{Key: "seq", Value: 1}, {Key: "_id", Value: 1}}

// =============================================================================
// 📚 MongoRouteStore
// =============================================================================

// MongoRouteStore 基于 MongoDB 的路由存储
type MongoRouteStore struct {
	db   *mongo.Database
	coll *mongo.Collection
}

// NewMongoRouteStore 创建路由存储
func NewMongoRouteStore(db *mongo.Database) *MongoRouteStore {
	return &MongoRouteStore{db: db, coll: db.Collection(MongoRoutesCollection)}
}

// EnsureIndexes 创建查询索引
func (s *MongoRouteStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "document_type", Value: 1}, {Key: "is_active", Value: 1}}},
	})
	return err
}

func (s *MongoRouteStore) Create(ctx context.Context, route *workflow.WorkflowRoute) error {
	seq, err := nextSeq(ctx, s.db, MongoRoutesCollection)
	if err != nil {
		return err
	}
	_, err = s.coll.InsertOne(ctx, routeDoc{
		ID: route.ID, Seq: seq, DocumentType: route.DocumentType, IsActive: route.IsActive, Route: route,
	})
	if mongo.IsDuplicateKeyError(err) {
		return workflow.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert route: %w", err)
	}
	return nil
}

func (s *MongoRouteStore) Update(ctx context.Context, route *workflow.WorkflowRoute) error {
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": route.ID}, bson.M{"$set": bson.M{
		"document_type": route.DocumentType,
		"is_active":     route.IsActive,
		"route":         route,
	}})
	if err != nil {
		return fmt.Errorf("failed to update route: %w", err)
	}
	if res.MatchedCount == 0 {
		return workflow.ErrNotFound
	}
	return nil
}

func (s *MongoRouteStore) Get(ctx context.Context, routeID string) (*workflow.WorkflowRoute, error) {
	var doc routeDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": routeID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get route: %w", err)
	}
	return doc.Route, nil
}

func (s *MongoRouteStore) List(ctx context.Context) ([]*workflow.WorkflowRoute, error) {
	cur, err := s.coll.Find(ctx, bson.M{}, options.Find().SetSort(bySeq))
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	var docs []routeDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode routes: %w", err)
	}
	out := make([]*workflow.WorkflowRoute, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].Route)
	}
	return out, nil
}

// =============================================================================
// 📚 MongoInstanceStore
// =============================================================================

// MongoInstanceStore 基于 MongoDB 的实例存储。
// Update 以 {_id, version} 为条件整文档替换。
type MongoInstanceStore struct {
	db   *mongo.Database
	coll *mongo.Collection
}

// NewMongoInstanceStore 创建实例存储
func NewMongoInstanceStore(db *mongo.Database) *MongoInstanceStore {
	return &MongoInstanceStore{db: db, coll: db.Collection(MongoInstancesCollection)}
}

// EnsureIndexes 创建查询索引
func (s *MongoInstanceStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "workflow_route_id", Value: 1}}},
		{Keys: bson.D{{Key: "document_id", Value: 1}}},
	})
	return err
}

func (s *MongoInstanceStore) Create(ctx context.Context, instance *workflow.WorkflowInstance) error {
	if instance.Version == 0 {
		instance.Version = 1
	}
	seq, err := nextSeq(ctx, s.db, MongoInstancesCollection)
	if err != nil {
		return err
	}
	_, err = s.coll.InsertOne(ctx, newInstanceDoc(instance, seq))
	if mongo.IsDuplicateKeyError(err) {
		return workflow.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert instance: %w", err)
	}
	return nil
}

func newInstanceDoc(instance *workflow.WorkflowInstance, seq int64) instanceDoc {
	return instanceDoc{
		ID:              instance.ID,
		Seq:             seq,
		Status:          string(instance.Status),
		WorkflowRouteID: instance.WorkflowRouteID,
		DocumentID:      instance.DocumentID,
		Version:         instance.Version,
		Instance:        instance,
	}
}

func (s *MongoInstanceStore) Update(ctx context.Context, instance *workflow.WorkflowInstance) error {
	next := instance.Clone()
	next.Version = instance.Version + 1

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": instance.ID, "version": instance.Version},
		bson.M{"$set": bson.M{
			"status":            string(next.Status),
			"workflow_route_id": next.WorkflowRouteID,
			"document_id":       next.DocumentID,
			"version":           next.Version,
			"instance":          next,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}
	if res.MatchedCount == 0 {
		count, err := s.coll.CountDocuments(ctx, bson.M{"_id": instance.ID})
		if err != nil {
			return fmt.Errorf("failed to update instance: %w", err)
		}
		if count == 0 {
			return workflow.ErrNotFound
		}
		return workflow.ErrConflict
	}
	instance.Version = next.Version
	return nil
}

func (s *MongoInstanceStore) Get(ctx context.Context, instanceID string) (*workflow.WorkflowInstance, error) {
	var doc instanceDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": instanceID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return doc.instance(), nil
}

func (s *MongoInstanceStore) List(ctx context.Context, filter workflow.InstanceFilter) ([]*workflow.WorkflowInstance, error) {
	query := bson.M{}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		query["status"] = bson.M{"$in": statuses}
	}
	if filter.WorkflowRouteID != "" {
		query["workflow_route_id"] = filter.WorkflowRouteID
	}
	if filter.DocumentID != "" {
		query["document_id"] = filter.DocumentID
	}

	cur, err := s.coll.Find(ctx, query, options.Find().SetSort(bySeq))
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	var docs []instanceDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode instances: %w", err)
	}
	out := make([]*workflow.WorkflowInstance, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].instance())
	}
	return out, nil
}
