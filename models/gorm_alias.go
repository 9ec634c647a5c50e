package models

// AliasStatus is the lifecycle state of an alias.
type AliasStatus string

const (
	AliasConfirmed AliasStatus = "confirmed"
	AliasPending   AliasStatus = "pending"
)

// Alias is an observed name variant tied to a source. It corresponds to the
// 'aliases' table. (text, source) is unique across all rows, pending or not.
type Alias struct {
	ID                  uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	SupplierID          *uint       `gorm:"index" json:"supplier_id,omitempty"`           // nil while pending
	CandidateSupplierID *uint       `gorm:"index" json:"candidate_supplier_id,omitempty"` // top-ranked match for pending aliases
	Text                string      `gorm:"not null;uniqueIndex:idx_alias_text_source" json:"text"`
	Source              string      `gorm:"not null;uniqueIndex:idx_alias_text_source" json:"source"`
	NormalizedKey       string      `gorm:"not null;index" json:"normalized_key"`
	BlockingKey         string      `gorm:"not null;index" json:"blocking_key"`
	Confidence          float64     `gorm:"not null;default:0" json:"confidence"`
	Status              AliasStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	CreatedAt           int64       `gorm:"not null" json:"created_at"` // Unix milliseconds
	UpdatedAt           int64       `gorm:"not null" json:"updated_at"` // Unix milliseconds
}

// TableName explicitly sets the table name for GORM.
func (Alias) TableName() string {
	return "aliases"
}

// IsPending reports whether the alias still awaits review.
func (a Alias) IsPending() bool {
	return a.Status == AliasPending
}
