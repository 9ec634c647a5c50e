package models

// LinkedRecord is an external record (purchase order, invoice, email thread)
// that refers to a supplier. It corresponds to the 'linked_records' table.
// The supplier reference is non-owning and stays nil until resolved.
type LinkedRecord struct {
	ID             uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind           string `gorm:"not null;uniqueIndex:idx_record_kind_external" json:"kind"`
	ExternalID     string `gorm:"not null;uniqueIndex:idx_record_kind_external" json:"external_id"`
	SupplierID     *uint  `gorm:"index" json:"supplier_id,omitempty"`
	PendingAliasID *uint  `gorm:"index" json:"pending_alias_id,omitempty"` // set while waiting on review
	CreatedAt      int64  `gorm:"not null" json:"created_at"`
	UpdatedAt      int64  `gorm:"not null" json:"updated_at"`
}

// TableName explicitly sets the table name for GORM.
func (LinkedRecord) TableName() string {
	return "linked_records"
}
