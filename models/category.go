package models

// Category groups products. ProductIDs is maintained by product create and delete.
type Category struct {
	ID          string   `json:"id" bson:"_id"`
	Name        string   `json:"name" bson:"name" validate:"required,min=2,max=100"`
	Description string   `json:"description" bson:"description" validate:"max=1000"`
	ProductIDs  []string `json:"product_ids" bson:"product_ids"`
	Timestamps  `bson:",inline"`
}

func (c *Category) GetID() string   { return c.ID }
func (c *Category) SetID(id string) { c.ID = id }
func (c *Category) OwnerID() string { return "" }
