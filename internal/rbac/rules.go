package rbac

const (
	RoleAdmin   = "admin"
	RoleLearner = "learner"
)

const (
	PermPackageImport   = "package:import"
	PermPackageDelete   = "package:delete"
	PermPackageView     = "package:view"
	PermViewOpen        = "view:open"
	PermTrackingReadOwn = "tracking:read-own"
	PermTrackingReadAll = "tracking:read-all"
	PermTrackingWrite   = "tracking:write"
	PermEventsRead      = "events:read"
)

// Default policy.
var RolePermissions = map[string][]string{
	RoleLearner: {
		PermPackageView,
		PermViewOpen,
		PermTrackingReadOwn,
		PermTrackingWrite,
	},
	RoleAdmin: {
		"*", // everything
	},
}
