package models

// APIResponse is the standard JSON envelope for all API responses.
type APIResponse struct {
	Data interface{} `json:"data"`
	Meta *Meta       `json:"meta,omitempty"`
}

// Meta carries result counts for list responses.
type Meta struct {
	Total int `json:"total,omitempty"`
}

// Role values stored in users.role.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Activity actions stored in activity_logs.action.
const (
	ActionUpload = "upload"
	ActionDelete = "delete"
)

// Record is one row of the issues table.
type Record struct {
	ProductCode  string `json:"product_code"`
	ProductName  string `json:"product_name"`
	Status       string `json:"status"`
	ChangeDesc   string `json:"change_desc"`
	DipSOP       string `json:"dip_sop"`
	AssemblySOP  string `json:"assembly_sop"`
	TestSOP      string `json:"test_sop"`
	PackagingSOP string `json:"packaging_sop"`
	OQCChecklist string `json:"oqc_checklist"`
	CreatedBy    string `json:"created_by"`
	CreatedAt    string `json:"created_at"`
}

// Account is one row of the users table. The password digest never leaves
// the store.
type Account struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	CanAdd    bool   `json:"can_add"`
	CanDelete bool   `json:"can_delete"`
	Active    bool   `json:"active"`
}

// ActivityEntry is one row of activity_logs.
type ActivityEntry struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Action    string `json:"action"`
	Filename  string `json:"filename"`
	Timestamp string `json:"timestamp"`
}
