package models

import "time"

// OwnerType distinguishes the kinds of accounts that can own products and hold a balance.
type OwnerType string

const (
	OwnerUser  OwnerType = "user"
	OwnerSalon OwnerType = "salon"
)

// Owner identifies the account credited when a product sells.
type Owner struct {
	Type OwnerType `json:"type" bson:"type" validate:"required,oneof=user salon"`
	ID   string    `json:"id" bson:"id" validate:"required"`
}

// Key is a stable string form used for grouping.
func (o Owner) Key() string {
	return string(o.Type) + ":" + o.ID
}

// Image is a CDN-hosted image.
type Image struct {
	URL      string `json:"url" bson:"url" validate:"required,url"`
	PublicID string `json:"public_id,omitempty" bson:"public_id,omitempty"`
}

// Resource is implemented by documents served through the generic CRUD service.
type Resource interface {
	GetID() string
	SetID(id string)
	// OwnerID is the user controlling the document, empty when only admins manage it.
	OwnerID() string
	Stamp(now time.Time, created bool)
}

// Timestamps is embedded by CRUD documents.
type Timestamps struct {
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" bson:"updated_at"`
	DeletedAt *time.Time `json:"-" bson:"deleted_at,omitempty"`
}

func (t *Timestamps) Stamp(now time.Time, created bool) {
	if created {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
}
