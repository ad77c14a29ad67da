// Package policy decides whether an actor may perform an action on a resource.
package policy

import "marketplace-service/models"

type Action string

const (
	Create Action = "create"
	Read   Action = "read"
	Update Action = "update"
	Delete Action = "delete"
	Manage Action = "manage"
)

// Resource kinds.
const (
	Products    = "products"
	Categories  = "categories"
	Vouchers    = "vouchers"
	Banners     = "banners"
	Salons      = "salons"
	Withdrawals = "withdrawals"
	Invoices    = "invoices"
	Images      = "images"
)

// Actor is the authenticated caller. The zero value is an anonymous caller.
type Actor struct {
	UserID string
	Role   string
}

func (a Actor) IsAdmin() bool { return a.Role == models.RoleAdmin }

// Target describes what the action is applied to. OwnerID is empty for collections
// and for resources only admins control.
type Target struct {
	Kind    string
	OwnerID string
}

type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Reason: reason} }

var creators = map[string][]string{
	Products:    {models.RoleSeller, models.RoleSalon, models.RoleAdmin},
	Salons:      {models.RoleSalon, models.RoleAdmin},
	Categories:  {models.RoleAdmin},
	Vouchers:    {models.RoleAdmin},
	Banners:     {models.RoleAdmin},
	Images:      {models.RoleSeller, models.RoleSalon, models.RoleAdmin},
	Withdrawals: {models.RoleUser, models.RoleSeller, models.RoleSalon, models.RoleAdmin},
	Invoices:    {models.RoleUser, models.RoleSeller, models.RoleSalon, models.RoleAdmin},
}

// private kinds are readable only by their owner or an admin.
var private = map[string]bool{
	Withdrawals: true,
	Invoices:    true,
}

// CanPerform applies the marketplace rules:
// admins may do anything, catalog reads are public, creation is limited to the roles
// allowed for the kind, and owners may change or remove what they own.
func CanPerform(actor Actor, action Action, target Target) Decision {
	if actor.IsAdmin() {
		return allow()
	}

	switch action {
	case Read:
		if !private[target.Kind] {
			return allow()
		}
		if actor.UserID != "" && actor.UserID == target.OwnerID {
			return allow()
		}
		return deny("you can only view your own " + target.Kind)

	case Create:
		if actor.UserID == "" {
			return deny("authentication required")
		}
		for _, role := range creators[target.Kind] {
			if role == actor.Role {
				return allow()
			}
		}
		return deny("role " + actor.Role + " cannot create " + target.Kind)

	case Update, Delete:
		if target.Kind == Withdrawals || target.Kind == Invoices {
			return deny("only administrators can modify " + target.Kind)
		}
		if actor.UserID != "" && target.OwnerID != "" && actor.UserID == target.OwnerID {
			return allow()
		}
		return deny("you do not own this resource")

	case Manage:
		return deny("administrator role required")
	}

	return deny("unknown action")
}
