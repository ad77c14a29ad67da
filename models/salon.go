package models

// Salon is a business profile. It can own products and receives their sale proceeds.
type Salon struct {
	ID          string   `json:"id" bson:"_id"`
	OwnerUserID string   `json:"owner_id" bson:"owner_id"`
	Name        string   `json:"name" bson:"name" validate:"required,min=2,max=120"`
	Description string   `json:"description" bson:"description" validate:"max=2000"`
	City        string   `json:"city" bson:"city" validate:"required"`
	Images      []Image  `json:"images" bson:"images" validate:"dive"`
	Balance     float64  `json:"balance" bson:"balance"`
	LedgerKeys  []string `json:"-" bson:"ledger_keys,omitempty"`
	Timestamps  `bson:",inline"`
}

func (s *Salon) GetID() string   { return s.ID }
func (s *Salon) SetID(id string) { s.ID = id }
func (s *Salon) OwnerID() string { return s.OwnerUserID }
