package validation

// Enum values - these MUST match DB CHECK constraints in the database package.
var (
	ValidRoles          = []string{"admin", "user"}
	ValidAccountFilters = []string{"all", "active", "inactive"}
	ValidSortOrders     = []string{"asc", "desc"}
	ValidExportFormats  = []string{"csv", "xlsx"}
)
