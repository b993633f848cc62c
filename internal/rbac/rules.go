package rbac

// Default policy for the exam-taking surfaces. Expand as needed.
var RolePermissions = map[string][]string{
	"student": {
		"exam:view",
		"attempt:start",
		"attempt:answer",
		"attempt:complete",
		"attempt:view-own",
		"user:change_password",
	},
	"teacher": {
		"exam:create",
		"exam:view",
		"exam:stats",
		"attempt:view-all",
		"users:bulk_upsert",
		"users:list",
		"user:change_password",
	},
	"admin": {
		"*", // everything
	},
}
