package models

// Supplier is a canonical supplier entity. It corresponds to the 'suppliers' table.
// Suppliers are never deleted: a merged supplier keeps its row, is marked
// inactive and redirects to the supplier that absorbed it.
type Supplier struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string `gorm:"not null;index" json:"name"`
	CreatedAt  int64  `gorm:"not null;index" json:"created_at"` // Unix milliseconds
	UpdatedAt  int64  `gorm:"not null" json:"updated_at"`       // Unix milliseconds
	RedirectTo *uint  `gorm:"index" json:"redirect_to,omitempty"`
	Active     bool   `gorm:"not null;default:true;index" json:"active"`
	MergedAt   *int64 `json:"merged_at,omitempty"`

	// Relationships
	// omitempty will hide these if they are not preloaded or are empty
	Aliases []Alias `gorm:"foreignKey:SupplierID" json:"aliases,omitempty"`
}

// TableName explicitly sets the table name for GORM.
func (Supplier) TableName() string {
	return "suppliers"
}
