package store

import (
	"fmt"
	"time"

	"github.com/BaSui01/docflow/workflow"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"gorm.io/gorm"
)

// Backend 存储后端类型
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendGorm   Backend = "gorm"
	BackendRedis  Backend = "redis"
	BackendMongo  Backend = "mongo"
)

// QueueBackend 通知队列后端类型
type QueueBackend string

const (
	QueueMemory QueueBackend = "memory"
	QueueRedis  QueueBackend = "redis"
)

// Deps 后端所需的连接，由调用方创建并负责关闭
type Deps struct {
	DB        *gorm.DB
	Redis     redis.UniversalClient
	Mongo     *mongo.Database
	KeyPrefix string

	// RouteCache 非 nil 且 RouteCacheTTL > 0 时，gorm/mongo 路由读取走缓存
	RouteCache    JSONCache
	RouteCacheTTL time.Duration
	Logger        *zap.Logger
}

// Stores 引擎所需的存储组合
type Stores struct {
	Routes    workflow.RouteStore
	Instances workflow.InstanceStore
	Notifier  workflow.Notifier
}

// New 按后端类型创建存储
func New(backend Backend, queue QueueBackend, deps Deps) (*Stores, error) {
	stores := &Stores{}

	switch backend {
	case BackendMemory, "":
		stores.Routes = workflow.NewMemoryRouteStore()
		stores.Instances = workflow.NewMemoryInstanceStore()
	case BackendGorm:
		if deps.DB == nil {
			return nil, fmt.Errorf("store backend %q requires a database connection", backend)
		}
		stores.Routes = deps.withRouteCache(NewGormRouteStore(deps.DB))
		stores.Instances = NewGormInstanceStore(deps.DB)
	case BackendRedis:
		if deps.Redis == nil {
			return nil, fmt.Errorf("store backend %q requires a redis client", backend)
		}
		stores.Routes = NewRedisRouteStore(deps.Redis, deps.KeyPrefix)
		stores.Instances = NewRedisInstanceStore(deps.Redis, deps.KeyPrefix)
	case BackendMongo:
		if deps.Mongo == nil {
			return nil, fmt.Errorf("store backend %q requires a mongo database", backend)
		}
		stores.Routes = deps.withRouteCache(NewMongoRouteStore(deps.Mongo))
		stores.Instances = NewMongoInstanceStore(deps.Mongo)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", backend)
	}

	switch queue {
	case QueueMemory, "":
		stores.Notifier = workflow.NewMemoryNotificationQueue()
	case QueueRedis:
		if deps.Redis == nil {
			return nil, fmt.Errorf("notification queue %q requires a redis client", queue)
		}
		stores.Notifier = NewRedisNotificationQueue(deps.Redis, deps.KeyPrefix, deps.Logger)
	default:
		return nil, fmt.Errorf("unsupported notification queue: %s", queue)
	}

	return stores, nil
}

func (d Deps) withRouteCache(routes workflow.RouteStore) workflow.RouteStore {
	if d.RouteCache == nil || d.RouteCacheTTL <= 0 {
		return routes
	}
	return NewCachedRouteStore(routes, d.RouteCache, d.RouteCacheTTL, d.Logger)
}
