package validation

// Common enum values - these MUST match DB CHECK constraints in database package.
var (
	ValidTxnTypes   = []string{"Receipt", "Withdrawal", "Adjustment", "Return"}
	ValidNCStatuses = []string{"At Store NC", "Scrap", "Resolved"}
	ValidRoles      = []string{"saleco", "inventory", "qcm", "admin"}
)
