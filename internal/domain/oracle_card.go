package domain

import "time"

// OracleCard represents the abstract identity of a card, shared across every
// printing (reprint) of it. Two Printings with the same OracleID are the same
// card in different sets.
type OracleCard struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"type:text;not null;uniqueIndex:idx_oracle_cards_name_ci" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Printings []Printing `gorm:"foreignKey:OracleID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the database table name for OracleCard.
func (OracleCard) TableName() string {
	return "oracle_cards"
}
