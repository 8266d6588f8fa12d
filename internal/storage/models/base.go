// internal/storage/models/base.go
package models

import "time"

// BaseModel replaces gorm.Model; rows are keyed by domain ids, not surrogate keys.
type BaseModel struct {
	CreatedAt time.Time
	UpdatedAt time.Time
}
