// internal/storage/models/base.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel holds the common journal columns. Deletes are soft.
type BaseModel struct {
	ID        uint           `gorm:"primarykey" json:"-"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"-"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"-"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
