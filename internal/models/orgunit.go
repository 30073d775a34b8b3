package models

// OrgUnit is one node of the two-level tenant hierarchy. Units with
// ParentRID zero are top-level tenants. The hierarchy is maintained by
// the external org management surface; the delivery core only reads it.
type OrgUnit struct {
	RID       int64  `json:"rid"`
	ParentRID int64  `json:"parent_rid,omitempty"`
	Name      string `json:"name,omitempty"`
}
