package rbac

// Authorizer answers capability questions for one module from a role
// snapshot.
type Authorizer struct {
	module string
	role   *Role
}

// NewAuthorizer binds module to role. A nil role grants nothing.
func NewAuthorizer(module string, role *Role) Authorizer {
	return Authorizer{module: module, role: role}
}

// IsAdmin reports whether the role bypasses checks.
func (a Authorizer) IsAdmin() bool { return a.role.Admin() }

func (a Authorizer) CanCreate() bool { return a.Can(string(ActionCreate)) }
func (a Authorizer) CanRead() bool   { return a.Can(string(ActionRead)) }
func (a Authorizer) CanUpdate() bool { return a.Can(string(ActionUpdate)) }
func (a Authorizer) CanDelete() bool { return a.Can(string(ActionDelete)) }

// Can reports whether the role may perform action on the module. It accepts
// "module.action" and "module:action" names as well as module and action fields.
func (a Authorizer) Can(action string) bool {
	if a.role.Admin() {
		return true
	}
	if a.role == nil || action == "" {
		return false
	}
	dotted := a.module + "." + action
	coloned := a.module + ":" + action
	for _, p := range a.role.Permissions {
		if p.Name == dotted || p.Name == coloned {
			return true
		}
		if p.Module == a.module && p.Action.Contains(action) {
			return true
		}
	}
	return false
}

// Permissions returns the role's permissions scoped to the module.
func (a Authorizer) Permissions() []Permission {
	if a.role == nil {
		return nil
	}
	var out []Permission
	for _, p := range a.role.Permissions {
		if p.Module == a.module {
			out = append(out, p)
		}
	}
	return out
}
