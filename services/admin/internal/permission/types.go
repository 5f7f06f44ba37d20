package permission

// SetRolesRequest 设置管理员角色请求
type SetRolesRequest struct {
	Roles []string `json:"roles"`
}

// PermissionsResponse 管理员权限
type PermissionsResponse struct {
	AdminID     string   `json:"adminId"`
	Permissions []string `json:"permissions"`
	Generation  int64    `json:"generation"`
}

// RolesResponse 管理员角色
type RolesResponse struct {
	AdminID string   `json:"adminId"`
	Roles   []string `json:"roles"`
}

// SetPermissionsRequest 设置角色权限请求，元素格式 resource:action
type SetPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

// RolePermissionsResponse 角色权限
type RolePermissionsResponse struct {
	Role           string   `json:"role"`
	Permissions    []string `json:"permissions"`
	AffectedAdmins []string `json:"affectedAdmins"`
}
