package models

// ReconcilerLease is a named, expiring lock row. It corresponds to the
// 'reconciler_leases' table.
type ReconcilerLease struct {
	Name      string `gorm:"primaryKey" json:"name"`
	Holder    string `gorm:"not null" json:"holder"`
	ExpiresAt int64  `gorm:"not null" json:"expires_at"` // Unix milliseconds
}

// TableName explicitly sets the table name for GORM.
func (ReconcilerLease) TableName() string {
	return "reconciler_leases"
}
