// internal/model/contact.go
package model

type Contact struct {
	ID               int    `db:"id" json:"id"`
	TenantID         string `db:"tenant_id" json:"tenant_id"`
	Phone            string `db:"phone" json:"phone"`
	FirstName        string `db:"first_name" json:"first_name"`
	LastName         string `db:"last_name" json:"last_name"`
	Location         string `db:"location" json:"location"`
	PreferredProduct string `db:"preferred_product" json:"preferred_product"`
}

// Field returns the value of a mappable contact field by its column name.
func (c *Contact) Field(name string) (string, bool) {
	switch name {
	case "phone":
		return c.Phone, true
	case "first_name":
		return c.FirstName, true
	case "last_name":
		return c.LastName, true
	case "location":
		return c.Location, true
	case "preferred_product":
		return c.PreferredProduct, true
	}
	return "", false
}
