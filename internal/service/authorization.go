package service

import (
	"context"
	"fmt"
	"strconv"

	"procurement/internal/model"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
)

// AuthorizationGate answers whether an actor may decide at an approval level.
type AuthorizationGate interface {
	CanAct(ctx context.Context, actor model.Actor, level int) (bool, error)
}

// GateFunc adapts a plain predicate to AuthorizationGate.
type GateFunc func(actor model.Actor, level int) bool

func (f GateFunc) CanAct(_ context.Context, actor model.Actor, level int) (bool, error) {
	return f(actor, level), nil
}

// A role may act at the levels granted to it or to any role it inherits.
const approvalLevelModel = `
[request_definition]
r = sub, lvl

[policy_definition]
p = sub, lvl

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (p.lvl == "*" || r.lvl == p.lvl)
`

// LevelGrant allows Role to act at Level ("*" for any level).
type LevelGrant struct {
	Role  string
	Level string
}

// DefaultLevelGrants mirrors the approver roles: level-2 approvers inherit level 1 and
// admins may act at any level.
func DefaultLevelGrants() ([]LevelGrant, [][2]string) {
	grants := []LevelGrant{
		{Role: model.RoleApproverL1, Level: "1"},
		{Role: model.RoleApproverL2, Level: "2"},
		{Role: model.RoleAdmin, Level: "*"},
	}
	inherits := [][2]string{
		{model.RoleApproverL2, model.RoleApproverL1},
		{model.RoleAdmin, model.RoleApproverL2},
	}
	return grants, inherits
}

type casbinGate struct {
	enforcer *casbin.Enforcer
}

// NewCasbinGate builds a gate backed by an in-memory casbin enforcer.
func NewCasbinGate(grants []LevelGrant, inherits [][2]string) (AuthorizationGate, error) {
	m, err := casbinmodel.NewModelFromString(approvalLevelModel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse authorization model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create enforcer: %w", err)
	}

	for _, g := range grants {
		if _, err := enforcer.AddPolicy(g.Role, g.Level); err != nil {
			return nil, fmt.Errorf("failed to add policy for %s: %w", g.Role, err)
		}
	}
	for _, pair := range inherits {
		if _, err := enforcer.AddGroupingPolicy(pair[0], pair[1]); err != nil {
			return nil, fmt.Errorf("failed to add role inheritance %s -> %s: %w", pair[0], pair[1], err)
		}
	}

	return &casbinGate{enforcer: enforcer}, nil
}

func (g *casbinGate) CanAct(_ context.Context, actor model.Actor, level int) (bool, error) {
	if actor.Role == "" || level < 1 {
		return false, nil
	}
	return g.enforcer.Enforce(actor.Role, strconv.Itoa(level))
}
