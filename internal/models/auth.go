package models

// Role is the authorization role carried in a bearer token.
type Role string

const (
	RoleSystemAdmin  Role = "system_admin"
	RoleCompanyAdmin Role = "company_admin"
	RoleUser         Role = "user"
)

// IsAdmin reports whether the role may use administrative entry points.
func (r Role) IsAdmin() bool {
	return r == RoleSystemAdmin || r == RoleCompanyAdmin
}

// Identity is the decoded result of verifying a connection's bearer
// credential. It lives exactly as long as the connection that presented it.
type Identity struct {
	UserID    int    `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	CompanyID int    `json:"company_id,omitempty"`
}
