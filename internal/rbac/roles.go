package rbac

// Role names. Keep these stable; they are carried in session tokens.
const (
	RoleAgent      = "agent"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
	RoleSystem     = "system" // service accounts (bridges, automations)
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsServiceRole(role string) bool { return role == RoleSystem }
