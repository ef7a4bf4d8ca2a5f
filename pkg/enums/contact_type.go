package enums

// ContactType classifies CRM contacts.
type ContactType string

const (
	ContactTypeCustomer ContactType = "customer"
	ContactTypePartner  ContactType = "partner"
)

// String implements fmt.Stringer.
func (c ContactType) String() string {
	return string(c)
}
