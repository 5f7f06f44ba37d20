package auth

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/adminmgmt/pkg/config"
	apperrors "github.com/adminmgmt/pkg/errors"
	"github.com/casbin/casbin/v3"
	"github.com/casbin/casbin/v3/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"
)

// defaultModel 内置 RBAC 模型，配置未指定 modelPath 时使用
const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && (r.act == p.act || p.act == "*")
`

// NewEnforcer 创建Enforcer，db 为空时策略只保存在内存中
func NewEnforcer(db *gorm.DB, cfg *config.CasbinConfig) (*casbin.SyncedEnforcer, error) {
	var m model.Model
	var err error
	if cfg == nil || cfg.ModelPath == "" {
		m, err = model.NewModelFromString(defaultModel)
	} else {
		m, err = model.NewModelFromFile(cfg.ModelPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	if db == nil {
		e, err := casbin.NewSyncedEnforcer(m)
		if err != nil {
			return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
		}
		return e, nil
	}

	// 使用GORM适配器，创建时加载全部策略
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin adapter: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	return e, nil
}

// UserSubject 用户主体
func UserSubject(userID string) string {
	return "user:" + userID
}

// RoleSubject 角色主体
func RoleSubject(roleCode string) string {
	return "role:" + roleCode
}

// Permission 权限定义
type Permission struct {
	Resource string `json:"resource"` // 资源，如 admins
	Action   string `json:"action"`   // 动作，如 read, write, *
}

// String 权限标识 resource:action
func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// ParsePermission 解析 resource:action，资源中可以包含冒号
func ParsePermission(s string) (Permission, bool) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return Permission{}, false
	}
	return Permission{Resource: s[:i], Action: s[i+1:]}, true
}

// CasbinService Casbin服务，作为权限数据源
//
// 多个实例共享同一个策略库，本实例内存中的策略可能落后于其他实例的修改，
// 因此 Resolve 每次都先从适配器重新加载策略。
type CasbinService struct {
	enforcer *casbin.SyncedEnforcer
}

// NewCasbinService 创建Casbin服务
func NewCasbinService(enforcer *casbin.SyncedEnforcer) *CasbinService {
	return &CasbinService{
		enforcer: enforcer,
	}
}

// LoadPolicy 从策略库重新加载，纯内存策略时不做任何事
func (s *CasbinService) LoadPolicy() error {
	if s.enforcer.GetAdapter() == nil {
		return nil
	}
	if err := s.enforcer.LoadPolicy(); err != nil {
		return apperrors.Wrap(apperrors.ErrUnavailable, err)
	}
	return nil
}

// Resolve 解析用户的有效权限（包含角色继承），已排序去重
// 用户不存在任何角色或权限时返回 ErrNotFound
func (s *CasbinService) Resolve(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrUnavailable, err)
	}
	if err := s.LoadPolicy(); err != nil {
		return nil, err
	}

	user := UserSubject(userID)
	roles, err := s.enforcer.GetImplicitRolesForUser(user)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrUnavailable, err)
	}
	rules, err := s.enforcer.GetImplicitPermissionsForUser(user)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrUnavailable, err)
	}
	if len(roles) == 0 && len(rules) == 0 {
		return nil, apperrors.ErrNotFound
	}

	seen := make(map[string]struct{}, len(rules))
	perms := make([]string, 0, len(rules))
	for _, rule := range rules {
		if len(rule) < 3 {
			continue
		}
		p := Permission{Resource: rule[1], Action: rule[2]}.String()
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return perms, nil
}

// SetUserRoles 设置用户角色，覆盖原有角色
// 先撤销多余的角色再授予新角色，中途失败时用户只会少权限
func (s *CasbinService) SetUserRoles(userID string, roleCodes []string) error {
	if err := s.LoadPolicy(); err != nil {
		return err
	}
	user := UserSubject(userID)
	current, err := s.enforcer.GetRolesForUser(user)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrUnavailable, err)
	}

	want := make(map[string]struct{}, len(roleCodes))
	for _, code := range roleCodes {
		if code = strings.TrimSpace(code); code != "" {
			want[RoleSubject(code)] = struct{}{}
		}
	}

	var revoke, grant [][]string
	for _, role := range current {
		if _, ok := want[role]; ok {
			delete(want, role)
			continue
		}
		revoke = append(revoke, []string{user, role})
	}
	for role := range want {
		grant = append(grant, []string{user, role})
	}

	if len(revoke) > 0 {
		if _, err := s.enforcer.RemoveGroupingPolicies(revoke); err != nil {
			return apperrors.Wrap(apperrors.ErrUnavailable, err)
		}
	}
	if len(grant) > 0 {
		if _, err := s.enforcer.AddGroupingPolicies(grant); err != nil {
			return apperrors.Wrap(apperrors.ErrUnavailable, err)
		}
	}
	return nil
}

// GetRolesForUser 获取用户的直接角色编码
func (s *CasbinService) GetRolesForUser(userID string) ([]string, error) {
	if err := s.LoadPolicy(); err != nil {
		return nil, err
	}
	roles, err := s.enforcer.GetRolesForUser(UserSubject(userID))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrUnavailable, err)
	}
	codes := make([]string, 0, len(roles))
	for _, r := range roles {
		codes = append(codes, strings.TrimPrefix(r, "role:"))
	}
	sort.Strings(codes)
	return codes, nil
}

// SetRolePermissions 设置角色权限，覆盖原有权限
func (s *CasbinService) SetRolePermissions(roleCode string, permissions []Permission) error {
	if err := s.LoadPolicy(); err != nil {
		return err
	}
	role := RoleSubject(roleCode)
	if _, err := s.enforcer.DeletePermissionsForUser(role); err != nil {
		return apperrors.Wrap(apperrors.ErrUnavailable, err)
	}
	if len(permissions) == 0 {
		return nil
	}

	seen := make(map[Permission]struct{}, len(permissions))
	rules := make([][]string, 0, len(permissions))
	for _, perm := range permissions {
		if _, ok := seen[perm]; ok {
			continue
		}
		seen[perm] = struct{}{}
		rules = append(rules, []string{role, perm.Resource, perm.Action})
	}
	if _, err := s.enforcer.AddPolicies(rules); err != nil {
		return apperrors.Wrap(apperrors.ErrUnavailable, err)
	}
	return nil
}

// GetUsersForRole 获取直接或经由角色继承持有该角色的用户ID
func (s *CasbinService) GetUsersForRole(roleCode string) ([]string, error) {
	if err := s.LoadPolicy(); err != nil {
		return nil, err
	}
	lock := s.enforcer.GetLock()
	lock.RLock()
	subjects, err := s.enforcer.Enforcer.GetImplicitUsersForRole(RoleSubject(roleCode))
	lock.RUnlock()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrUnavailable, err)
	}

	ids := make([]string, 0, len(subjects))
	for _, sub := range subjects {
		if id, ok := strings.CutPrefix(sub, "user:"); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return slices.Compact(ids), nil
}
