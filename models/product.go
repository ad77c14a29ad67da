package models

// Product is a catalog item owned by a seller or a salon.
type Product struct {
	ID                string   `json:"id" bson:"_id"`
	Name              string   `json:"name" bson:"name" validate:"required,min=2,max=200"`
	Description       string   `json:"description" bson:"description" validate:"max=5000"`
	Price             float64  `json:"price" bson:"price" validate:"required,gt=0,cents"`
	DiscountedPrice   float64  `json:"discounted_price" bson:"discounted_price" validate:"gte=0,ltefield=Price,cents"`
	AvailabilityCount int      `json:"availability_count" bson:"availability_count" validate:"gte=0"`
	Owner             Owner    `json:"owner" bson:"owner"`
	CreatedBy         string   `json:"created_by" bson:"created_by"`
	CategoryIDs       []string `json:"category_ids" bson:"category_ids"`
	Images            []Image  `json:"images" bson:"images" validate:"dive"`
	SettlementKeys    []string `json:"-" bson:"settlement_keys,omitempty"`
	Timestamps        `bson:",inline"`
}

func (p *Product) GetID() string   { return p.ID }
func (p *Product) SetID(id string) { p.ID = id }
func (p *Product) OwnerID() string { return p.CreatedBy }

// EffectivePrice is the unit price charged at checkout.
func (p *Product) EffectivePrice() float64 {
	if p.DiscountedPrice > 0 && p.DiscountedPrice < p.Price {
		return p.DiscountedPrice
	}
	return p.Price
}
