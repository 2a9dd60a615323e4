package authz

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-pulse/internal/models"
)

var allActions = []string{
	models.PermReadMetrics,
	models.PermReadTraces,
	models.PermWriteAnnotations,
	models.PermReadAnomalies,
	models.PermWriteConfig,
	models.PermManageUsers,
}

func TestHasPermissionMatchesTable(t *testing.T) {
	policy := DefaultPolicy()
	expected := map[models.Role][]string{
		models.RoleViewer:   {models.PermReadMetrics, models.PermReadTraces},
		models.RoleEngineer: {models.PermReadMetrics, models.PermReadTraces, models.PermWriteAnnotations, models.PermReadAnomalies},
		models.RoleAdmin:    allActions,
	}

	for role, granted := range expected {
		user := models.User{Role: role}
		for _, action := range allActions {
			want := slices.Contains(granted, action)
			assert.Equal(t, want, policy.HasPermission(user, action), "role=%s action=%s", role, action)
		}
	}
}

func TestViewerPermissions(t *testing.T) {
	policy := DefaultPolicy()
	viewer := models.User{Role: models.RoleViewer}

	assert.True(t, policy.HasPermission(viewer, models.PermReadMetrics))
	assert.True(t, policy.HasPermission(viewer, models.PermReadTraces))
	assert.False(t, policy.HasPermission(viewer, models.PermWriteConfig))
	assert.False(t, policy.HasPermission(viewer, models.PermReadAnomalies))
}

func TestHasPermissionUnknownRoleOrAction(t *testing.T) {
	policy := DefaultPolicy()

	assert.False(t, policy.HasPermission(models.User{Role: "auditor"}, models.PermReadMetrics))
	assert.False(t, policy.HasPermission(models.User{Role: models.RoleAdmin}, "delete:everything"))
	assert.False(t, policy.HasPermission(models.User{}, ""))
}

func TestCanAccessService(t *testing.T) {
	policy := DefaultPolicy()
	viewer := models.User{Role: models.RoleViewer}

	for _, name := range []string{"api-gateway", "user-service", "search-service"} {
		assert.True(t, policy.CanAccessService(viewer, name), name)
	}
	for _, name := range []string{"payment-service", "auth-service", "no-such-service", ""} {
		assert.False(t, policy.CanAccessService(viewer, name), name)
	}

	for _, role := range []models.Role{models.RoleEngineer, models.RoleAdmin} {
		user := models.User{Role: role}
		for _, name := range []string{"payment-service", "api-gateway", "no-such-service"} {
			assert.True(t, policy.CanAccessService(user, name), "role=%s service=%s", role, name)
		}
	}
}

func TestRequireErrors(t *testing.T) {
	policy := DefaultPolicy()
	viewer := models.User{Role: models.RoleViewer}

	assert.NoError(t, policy.Require(viewer, models.PermReadMetrics))
	assert.ErrorIs(t, policy.Require(viewer, models.PermReadAnomalies), ErrUnauthorized)
	assert.NoError(t, policy.RequireService(viewer, "api-gateway"))
	assert.ErrorIs(t, policy.RequireService(viewer, "payment-service"), ErrAccessDenied)
}

func TestNewPolicyCopiesInput(t *testing.T) {
	perms := map[models.Role][]string{models.RoleViewer: {models.PermReadMetrics}}
	policy := NewPolicy(perms, nil)

	perms[models.RoleViewer] = append(perms[models.RoleViewer], models.PermManageUsers)
	perms[models.RoleAdmin] = []string{models.PermManageUsers}

	assert.False(t, policy.HasPermission(models.User{Role: models.RoleViewer}, models.PermManageUsers))
	assert.False(t, policy.HasPermission(models.User{Role: models.RoleAdmin}, models.PermManageUsers))
}

func TestLoadPolicyFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`permissions:
  viewer: ["read:metrics"]
  admin: ["read:metrics", "read:anomalies"]
services:
  viewer: ["checkout"]
`), 0o644))

	policy, err := LoadPolicy(path)
	require.NoError(t, err)

	viewer := models.User{Role: models.RoleViewer}
	assert.True(t, policy.HasPermission(viewer, models.PermReadMetrics))
	assert.False(t, policy.HasPermission(viewer, models.PermReadTraces))
	assert.True(t, policy.CanAccessService(viewer, "checkout"))
	assert.False(t, policy.CanAccessService(viewer, "api-gateway"))
	assert.Equal(t, []string{models.PermReadAnomalies, models.PermReadMetrics}, policy.Permissions(models.RoleAdmin))
}

func TestLoadPolicyRejectsUnknownRole(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("permissions:\n  root: [\"read:metrics\"]\n"), 0o644))

	_, err := LoadPolicy(path)
	assert.Error(t, err)
}

func TestLoadPolicyRejectsUnknownServiceRole(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`permissions:
  viewer: ["read:metrics"]
services:
  vewer: ["api-gateway"]
`), 0o644))

	_, err := LoadPolicy(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"vewer"`)
}

func TestLoadPolicyEmptyPathUsesDefault(t *testing.T) {
	policy, err := LoadPolicy("")
	require.NoError(t, err)
	assert.True(t, policy.HasPermission(models.User{Role: models.RoleAdmin}, models.PermManageUsers))
}
