package privacy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/exttable/privacy"
)

func TestViewerContext(t *testing.T) {
	viewer := &privacy.SimpleViewer{UserID: "7", Roles: []string{"Super user"}, OfficeHierarchy: ".1."}
	ctx := privacy.WithViewer(context.Background(), viewer)

	got := privacy.ViewerFromContext(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "7", got.GetID())
	assert.Equal(t, []string{"Super user"}, got.GetRoles())
	assert.Equal(t, ".1.", got.GetOfficeHierarchy())

	assert.Nil(t, privacy.ViewerFromContext(context.Background()))
	type wrongKey struct{}
	assert.Nil(t, privacy.ViewerFromContext(context.WithValue(context.Background(), wrongKey{}, "x")))
}

func TestDenyIfNoViewer(t *testing.T) {
	rule := privacy.DenyIfNoViewer()
	require.ErrorIs(t, rule.Eval(context.Background(), notes), privacy.Deny)
	ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "7"})
	require.ErrorIs(t, rule.Eval(ctx, notes), privacy.Skip)
}

func TestHasAnyRole(t *testing.T) {
	rule := privacy.HasAnyRole("Super user", "Branch manager")
	require.ErrorIs(t, rule.Eval(context.Background(), notes), privacy.Skip)

	ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{Roles: []string{"Branch manager"}})
	require.ErrorIs(t, rule.Eval(ctx, notes), privacy.Allow)

	ctx = privacy.WithViewer(context.Background(), &privacy.SimpleViewer{Roles: []string{"Teller"}})
	require.ErrorIs(t, rule.Eval(ctx, notes), privacy.Skip)
	require.ErrorIs(t, privacy.HasRole("Teller").Eval(ctx, notes), privacy.Allow)
}

func TestHasPermission(t *testing.T) {
	rule := privacy.HasPermission()
	tests := []struct {
		name   string
		perms  []string
		target privacy.Target
		want   error
	}{
		{"granted", []string{"CREATE_t_loan_notes"}, notes, privacy.Allow},
		{"other_table", []string{"CREATE_t_client_extra"}, notes, privacy.Skip},
		{"all_functions", []string{privacy.AllFunctions}, privacy.Target{Table: "t_loan_notes", Op: privacy.OpDeregister}, privacy.Allow},
		{"table_op_needs_all", []string{"DEREGISTER_t_loan_notes"}, privacy.Target{Table: "t_loan_notes", Op: privacy.OpDeregister}, privacy.Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{Permissions: tt.perms})
			require.ErrorIs(t, rule.Eval(ctx, tt.target), tt.want)
		})
	}
	require.ErrorIs(t, rule.Eval(context.Background(), notes), privacy.Skip)
}

func TestDenyAppTables(t *testing.T) {
	rule := privacy.DenyAppTables("m_savings_account")
	require.ErrorIs(t, rule.Eval(context.Background(), privacy.Target{AppTable: "m_savings_account"}), privacy.Deny)
	require.ErrorIs(t, rule.Eval(context.Background(), notes), privacy.Skip)
}

func TestOfficeScope(t *testing.T) {
	_, ok := privacy.OfficeScope(context.Background())
	assert.False(t, ok)
	assert.True(t, privacy.InScope(context.Background(), ".9."))

	ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{OfficeHierarchy: ".1.4."})
	pattern, ok := privacy.OfficeScope(ctx)
	require.True(t, ok)
	assert.Equal(t, ".1.4.%", pattern)
	assert.True(t, privacy.InScope(ctx, ".1.4."))
	assert.True(t, privacy.InScope(ctx, ".1.4.12."))
	assert.False(t, privacy.InScope(ctx, ".1."))
	assert.False(t, privacy.InScope(ctx, ".1.5."))

	ctx = privacy.WithViewer(context.Background(), &privacy.SimpleViewer{})
	_, ok = privacy.OfficeScope(ctx)
	assert.False(t, ok)
}

func TestIntegratedPolicy(t *testing.T) {
	policy := privacy.Policy{
		privacy.DenyIfNoViewer(),
		privacy.DenyAppTables("m_office"),
		privacy.HasRole("Super user"),
		privacy.HasPermission(),
		privacy.AlwaysDenyRule(),
	}
	teller := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{Permissions: []string{"READ_t_loan_notes"}})
	admin := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{Roles: []string{"Super user"}})

	require.ErrorIs(t, policy.Eval(context.Background(), notes), privacy.Deny)
	require.NoError(t, policy.Eval(teller, privacy.Target{Table: "t_loan_notes", Op: privacy.OpRead}))
	require.ErrorIs(t, policy.Eval(teller, notes), privacy.Deny)
	require.NoError(t, policy.Eval(admin, notes))
	require.ErrorIs(t, policy.Eval(admin, privacy.Target{Table: "t_office_x", AppTable: "m_office"}), privacy.Deny)
}
