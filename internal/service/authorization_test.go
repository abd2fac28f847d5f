package service

import (
	"context"
	"testing"

	"procurement/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCasbinGate_DefaultGrants(t *testing.T) {
	gate, err := NewCasbinGate(DefaultLevelGrants())
	require.NoError(t, err)

	cases := []struct {
		role  string
		level int
		want  bool
	}{
		{model.RoleApproverL1, 1, true},
		{model.RoleApproverL1, 2, false},
		{model.RoleApproverL2, 1, true},
		{model.RoleApproverL2, 2, true},
		{model.RoleApproverL2, 3, false},
		{model.RoleAdmin, 1, true},
		{model.RoleAdmin, 2, true},
		{model.RoleAdmin, 7, true},
		{model.RoleAdmin, 0, false},
		{model.RoleStaff, 1, false},
		{model.RoleFinance, 2, false},
		{"", 1, false},
	}
	for _, tc := range cases {
		ok, err := gate.CanAct(context.Background(), model.Actor{ID: uuid.New(), Role: tc.role}, tc.level)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, "role %q level %d", tc.role, tc.level)
	}
}

func TestCasbinGate_CustomGrants(t *testing.T) {
	gate, err := NewCasbinGate([]LevelGrant{{Role: "cfo", Level: "3"}}, nil)
	require.NoError(t, err)

	ok, err := gate.CanAct(context.Background(), model.Actor{Role: "cfo"}, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gate.CanAct(context.Background(), model.Actor{Role: "cfo"}, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGateFunc(t *testing.T) {
	gate := GateFunc(func(actor model.Actor, level int) bool { return level == 1 })

	ok, err := gate.CanAct(context.Background(), staff, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}
