package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// userRoleRow user_roles 表，(user_id, role) 联合主键
type userRoleRow struct {
	UserID    string `gorm:"primaryKey;size:200"`
	Role      string `gorm:"primaryKey;size:100;index"`
	CreatedAt time.Time
}

func (userRoleRow) TableName() string { return "user_roles" }

// GormRoleDirectory 基于 user_roles 表的角色目录，实现 workflow.RoleResolver。
type GormRoleDirectory struct {
	db *gorm.DB
}

// NewGormRoleDirectory 创建角色目录
func NewGormRoleDirectory(db *gorm.DB) *GormRoleDirectory {
	return &GormRoleDirectory{db: db}
}

// HasRole 实现 workflow.RoleResolver
func (d *GormRoleDirectory) HasRole(ctx context.Context, userID, role string) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&userRoleRow{}).
		Where("user_id = ? AND role = ?", userID, role).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("lookup role: %w", err)
	}
	return count > 0, nil
}

// Grant 授予角色，已存在时忽略
func (d *GormRoleDirectory) Grant(ctx context.Context, userID string, roles ...string) error {
	if len(roles) == 0 {
		return nil
	}
	rows := make([]userRoleRow, 0, len(roles))
	for _, role := range roles {
		rows = append(rows, userRoleRow{UserID: userID, Role: role})
	}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("grant roles: %w", err)
	}
	return nil
}

// Revoke 撤销角色
func (d *GormRoleDirectory) Revoke(ctx context.Context, userID string, roles ...string) error {
	if len(roles) == 0 {
		return nil
	}
	err := d.db.WithContext(ctx).
		Where("user_id = ? AND role IN ?", userID, roles).
		Delete(&userRoleRow{}).Error
	if err != nil {
		return fmt.Errorf("revoke roles: %w", err)
	}
	return nil
}

// RolesOf 返回用户持有的全部角色（按名称排序）
func (d *GormRoleDirectory) RolesOf(ctx context.Context, userID string) ([]string, error) {
	var roles []string
	err := d.db.WithContext(ctx).Model(&userRoleRow{}).
		Where("user_id = ?", userID).
		Order("role ASC").
		Pluck("role", &roles).Error
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}
