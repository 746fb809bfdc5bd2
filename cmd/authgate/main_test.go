package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	logger = zap.NewNop()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestUserCreateAndShow_sqlite(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_SQLITE_PATH", filepath.Join(t.TempDir(), "cli.db"))

	out, err := execute(t, "user", "create",
		"--email", "Jane.Doe@Example.com",
		"--username", "jane_doe",
		"--password-hash", "opaque",
		"--first-name", "Jane",
		"--last-name", "Doe",
		"--country", "Ireland",
		"--format", "text",
	)
	require.NoError(t, err, out)
	assert.Contains(t, out, "jane.doe@example.com")
	assert.Contains(t, out, "Jane Doe")

	out, err = execute(t, "user", "show", "JANE.DOE@example.com", "--format", "json")
	require.NoError(t, err, out)

	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "jane_doe", view["username"])
	assert.Equal(t, "Ireland", view["country"])
	assert.NotContains(t, view, "password_hash")
}

func TestUserCreate_reportsEveryInvalidField(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "memory")

	_, err := execute(t, "user", "create",
		"--email", "nope",
		"--username", "bad name!",
		"--password-hash", "x",
		"--first-name", "A",
		"--last-name", "B",
		"--picture", "https://example.com/a.bmp",
	)
	require.Error(t, err)
	msg := err.Error()
	for _, field := range []string{"email:", "username:", "profile_picture_url:"} {
		assert.True(t, strings.Contains(msg, field), "missing %s in %q", field, msg)
	}
}

func TestUserShow_notFound(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "memory")

	_, err := execute(t, "user", "show", "ghost_user")
	require.EqualError(t, err, "user not found")
}

func TestMigrate_rejectsNonPostgres(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")

	_, err := execute(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only applies to the postgres driver")
}

func TestServe_requiresSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("DATABASE_DRIVER", "memory")

	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_secret is required")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "authgate dev\n", out)
}
