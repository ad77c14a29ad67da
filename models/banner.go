package models

type Banner struct {
	ID         string `json:"id" bson:"_id"`
	Title      string `json:"title" bson:"title" validate:"required,max=200"`
	ImageURL   string `json:"image_url" bson:"image_url" validate:"required,url"`
	Link       string `json:"link" bson:"link" validate:"omitempty,url"`
	Active     bool   `json:"active" bson:"active"`
	Position   int    `json:"position" bson:"position" validate:"gte=0"`
	Timestamps `bson:",inline"`
}

func (b *Banner) GetID() string   { return b.ID }
func (b *Banner) SetID(id string) { b.ID = id }
func (b *Banner) OwnerID() string { return "" }
