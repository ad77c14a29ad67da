package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"marketplace-service/models"
)

func TestCanPerform(t *testing.T) {
	admin := Actor{UserID: "a1", Role: models.RoleAdmin}
	seller := Actor{UserID: "s1", Role: models.RoleSeller}
	salon := Actor{UserID: "o1", Role: models.RoleSalon}
	buyer := Actor{UserID: "u1", Role: models.RoleUser}
	anon := Actor{}

	tests := []struct {
		name    string
		actor   Actor
		action  Action
		target  Target
		allowed bool
	}{
		{"admin manages withdrawals", admin, Manage, Target{Kind: Withdrawals}, true},
		{"admin deletes someone else's product", admin, Delete, Target{Kind: Products, OwnerID: "s1"}, true},
		{"anonymous reads products", anon, Read, Target{Kind: Products}, true},
		{"anonymous cannot create", anon, Create, Target{Kind: Products}, false},
		{"seller creates product", seller, Create, Target{Kind: Products}, true},
		{"salon creates product", salon, Create, Target{Kind: Products}, true},
		{"buyer cannot create product", buyer, Create, Target{Kind: Products}, false},
		{"seller cannot create category", seller, Create, Target{Kind: Categories}, false},
		{"seller cannot create salon", seller, Create, Target{Kind: Salons}, false},
		{"salon creates salon", salon, Create, Target{Kind: Salons}, true},
		{"owner updates own product", seller, Update, Target{Kind: Products, OwnerID: "s1"}, true},
		{"non owner cannot update", salon, Update, Target{Kind: Products, OwnerID: "s1"}, false},
		{"non owner cannot delete", buyer, Delete, Target{Kind: Products, OwnerID: "s1"}, false},
		{"nobody owns a category", seller, Update, Target{Kind: Categories}, false},
		{"buyer requests withdrawal", buyer, Create, Target{Kind: Withdrawals}, true},
		{"buyer reads own withdrawal", buyer, Read, Target{Kind: Withdrawals, OwnerID: "u1"}, true},
		{"buyer cannot read other withdrawal", buyer, Read, Target{Kind: Withdrawals, OwnerID: "s1"}, false},
		{"owner cannot approve own withdrawal", buyer, Manage, Target{Kind: Withdrawals, OwnerID: "u1"}, false},
		{"owner cannot edit withdrawal", buyer, Update, Target{Kind: Withdrawals, OwnerID: "u1"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := CanPerform(tc.actor, tc.action, tc.target)
			assert.Equal(t, tc.allowed, d.Allowed)
			if !tc.allowed {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}
