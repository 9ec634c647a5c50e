package models

// Merge actors recorded in SupplierMerge.MergedBy.
const (
	MergedByReconciler = "reconciler"
	MergedByAdmin      = "admin"
)

// SupplierMerge is the audit trail of a merge. It corresponds to the
// 'supplier_merges' table.
type SupplierMerge struct {
	ID          uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	AbsorbedID  uint    `gorm:"not null;index" json:"absorbed_id"`
	SurvivorID  uint    `gorm:"not null;index" json:"survivor_id"`
	Score       float64 `gorm:"not null;default:0" json:"score"`
	Reason      string  `gorm:"type:text" json:"reason"`
	MergedBy    string  `gorm:"type:varchar(32);not null" json:"merged_by"`
	AliasCount  int64   `gorm:"not null;default:0" json:"alias_count"`  // aliases moved
	RecordCount int64   `gorm:"not null;default:0" json:"record_count"` // linked records moved
	CreatedAt   int64   `gorm:"not null" json:"created_at"`
}

// TableName explicitly sets the table name for GORM.
func (SupplierMerge) TableName() string {
	return "supplier_merges"
}
