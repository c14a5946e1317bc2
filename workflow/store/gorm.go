package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/docflow/workflow"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// =============================================================================
// 🗄️ 表模型
// =============================================================================

// routeRow workflow_routes 表。查询用字段冗余存储，完整定义保存在 data 列。
type routeRow struct {
	ID           string                  `gorm:"primaryKey;size:64"`
	Seq          int64                   `gorm:"not null;index"`
	Name         string                  `gorm:"size:200;not null;index"`
	DocumentType string                  `gorm:"size:100;not null;index"`
	Department   string                  `gorm:"size:100"`
	Branch       string                  `gorm:"size:100"`
	IsActive     bool                    `gorm:"not null;index"`
	Version      int                     `gorm:"not null"`
	Data         *workflow.WorkflowRoute `gorm:"serializer:json;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (routeRow) TableName() string { return "workflow_routes" }

func newRouteRow(r *workflow.WorkflowRoute) *routeRow {
	return &routeRow{
		ID:           r.ID,
		Name:         r.Name,
		DocumentType: r.DocumentType,
		Department:   r.Department,
		Branch:       r.Branch,
		IsActive:     r.IsActive,
		Version:      r.Version,
		Data:         r.Clone(),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// instanceRow workflow_instances 表
type instanceRow struct {
	ID              string                     `gorm:"primaryKey;size:64"`
	Seq             int64                      `gorm:"not null;index"`
	DocumentID      string                     `gorm:"size:200;not null;index"`
	WorkflowRouteID string                     `gorm:"size:64;not null;index"`
	CurrentStepID   string                     `gorm:"size:100;not null"`
	Status          string                     `gorm:"size:32;not null;index"`
	InitiatedBy     string                     `gorm:"size:200;not null;index"`
	InitiatedAt     time.Time                  `gorm:"not null"`
	CompletedAt     *time.Time
	Version         int                        `gorm:"not null"`
	Data            *workflow.WorkflowInstance `gorm:"serializer:json;not null"`
	UpdatedAt       time.Time
}

func (instanceRow) TableName() string { return "workflow_instances" }

func newInstanceRow(i *workflow.WorkflowInstance) *instanceRow {
	return &instanceRow{
		ID:              i.ID,
		DocumentID:      i.DocumentID,
		WorkflowRouteID: i.WorkflowRouteID,
		CurrentStepID:   i.CurrentStepID,
		Status:          string(i.Status),
		InitiatedBy:     i.InitiatedBy,
		InitiatedAt:     i.InitiatedAt,
		CompletedAt:     i.CompletedAt,
		Version:         i.Version,
		Data:            i.Clone(),
	}
}

// instanceUpdateColumns 乐观更新时写入的列（seq 与 initiated_at 不变）
var instanceUpdateColumns = []string{
	"document_id", "workflow_route_id", "current_step_id", "status",
	"initiated_by", "completed_at", "version", "data", "updated_at",
}

// =============================================================================
// 📚 GormRouteStore
// =============================================================================

// GormRouteStore 基于 GORM 的路由存储
type GormRouteStore struct {
	db *gorm.DB
}

// NewGormRouteStore 创建路由存储
func NewGormRouteStore(db *gorm.DB) *GormRouteStore {
	return &GormRouteStore{db: db}
}

func (s *GormRouteStore) Create(ctx context.Context, route *workflow.WorkflowRoute) error {
	row := newRouteRow(route)
	row.Seq = time.Now().UnixNano()
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if duplicate(ctx, s.db, &routeRow{}, route.ID, err) {
			return workflow.ErrAlreadyExists
		}
		return fmt.Errorf("create workflow route: %w", err)
	}
	return nil
}

func (s *GormRouteStore) Update(ctx context.Context, route *workflow.WorkflowRoute) error {
	row := newRouteRow(route)
	res := s.db.WithContext(ctx).Model(&routeRow{ID: route.ID}).
		Select("name", "document_type", "department", "branch", "is_active", "version", "data", "updated_at").
		Updates(row)
	if res.Error != nil {
		return fmt.Errorf("update workflow route: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		found, err := exists(ctx, s.db, &routeRow{}, route.ID)
		if err != nil {
			return fmt.Errorf("update workflow route: %w", err)
		}
		if !found {
			return workflow.ErrNotFound
		}
	}
	return nil
}

func (s *GormRouteStore) Get(ctx context.Context, routeID string) (*workflow.WorkflowRoute, error) {
	var row routeRow
	err := s.db.WithContext(ctx).Where("id = ?", routeID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow route: %w", err)
	}
	return row.Data, nil
}

func (s *GormRouteStore) List(ctx context.Context) ([]*workflow.WorkflowRoute, error) {
	var rows []routeRow
	if err := s.db.WithContext(ctx).Order("seq ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list workflow routes: %w", err)
	}
	out := make([]*workflow.WorkflowRoute, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].Data)
	}
	return out, nil
}

// =============================================================================
// 📚 GormInstanceStore
// =============================================================================

// GormInstanceStore 基于 GORM 的实例存储，version 列实现乐观锁。
type GormInstanceStore struct {
	db *gorm.DB
}

// NewGormInstanceStore 创建实例存储
func NewGormInstanceStore(db *gorm.DB) *GormInstanceStore {
	return &GormInstanceStore{db: db}
}

func (s *GormInstanceStore) Create(ctx context.Context, instance *workflow.WorkflowInstance) error {
	if instance.Version == 0 {
		instance.Version = 1
	}
	row := newInstanceRow(instance)
	row.Seq = time.Now().UnixNano()
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if duplicate(ctx, s.db, &instanceRow{}, instance.ID, err) {
			return workflow.ErrAlreadyExists
		}
		return fmt.Errorf("create workflow instance: %w", err)
	}
	return nil
}

func (s *GormInstanceStore) Update(ctx context.Context, instance *workflow.WorkflowInstance) error {
	next := instance.Clone()
	next.Version = instance.Version + 1
	row := newInstanceRow(next)

	res := s.db.WithContext(ctx).Model(&instanceRow{ID: instance.ID}).
		Where("version = ?", instance.Version).
		Select(instanceUpdateColumns).
		Updates(row)
	if res.Error != nil {
		return fmt.Errorf("update workflow instance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		found, err := exists(ctx, s.db, &instanceRow{}, instance.ID)
		if err != nil {
			return fmt.Errorf("update workflow instance: %w", err)
		}
		if !found {
			return workflow.ErrNotFound
		}
		return workflow.ErrConflict
	}
	instance.Version = next.Version
	return nil
}

func (s *GormInstanceStore) Get(ctx context.Context, instanceID string) (*workflow.WorkflowInstance, error) {
	var row instanceRow
	err := s.db.WithContext(ctx).Where("id = ?", instanceID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow instance: %w", err)
	}
	return row.instance(), nil
}

func (s *GormInstanceStore) List(ctx context.Context, filter workflow.InstanceFilter) ([]*workflow.WorkflowInstance, error) {
	q := s.db.WithContext(ctx).Model(&instanceRow{})
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	if filter.WorkflowRouteID != "" {
		q = q.Where("workflow_route_id = ?", filter.WorkflowRouteID)
	}
	if filter.DocumentID != "" {
		q = q.Where("document_id = ?", filter.DocumentID)
	}

	var rows []instanceRow
	if err := q.Order(clause.OrderByColumn{Column: clause.Column{Name: "seq"}}).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list workflow instances: %w", err)
	}
	out := make([]*workflow.WorkflowInstance, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].instance())
	}
	return out, nil
}

// instance 以 version 列为准，data 中的版本号可能落后于并发写入
func (r *instanceRow) instance() *workflow.WorkflowInstance {
	inst := r.Data
	if inst == nil {
		inst = &workflow.WorkflowInstance{ID: r.ID}
	}
	inst.Version = r.Version
	return inst
}

func exists(ctx context.Context, db *gorm.DB, model any, id string) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// duplicate 方言未开启 TranslateError 时回退为按主键查询
func duplicate(ctx context.Context, db *gorm.DB, model any, id string, err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	found, lookupErr := exists(ctx, db, model, id)
	return lookupErr == nil && found
}
