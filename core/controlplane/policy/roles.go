package policy

// Actions checked by the gate.
const (
	ActionRunsCreate          = "runs:create"
	ActionWorkspaceRead       = "workspace:read"
	ActionWorkspaceWrite      = "workspace:write"
	ActionOrchestratorCommand = "orchestrator:command"
	ActionOrchestratorAdmin   = "orchestrator:admin"
)

// actionRoles is the static permission table. Roles absent from an action's
// set are denied before any policy lookup happens.
var actionRoles = map[string]map[string]bool{
	ActionRunsCreate: {
		"owner":  true,
		"admin":  true,
		"member": true,
	},
	ActionWorkspaceRead: {
		"owner":  true,
		"admin":  true,
		"member": true,
		"viewer": true,
	},
	ActionWorkspaceWrite: {
		"owner":  true,
		"admin":  true,
		"member": true,
	},
	ActionOrchestratorCommand: {
		"owner":  true,
		"admin":  true,
		"member": true,
	},
	ActionOrchestratorAdmin: {
		"owner": true,
		"admin": true,
	},
}

// roleAllowed reports whether the role may perform the action. Unknown
// actions deny everyone.
func roleAllowed(action, role string) bool {
	roles, ok := actionRoles[action]
	if !ok {
		return false
	}
	return roles[role]
}
