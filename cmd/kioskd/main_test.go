package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskvote.org/internal/audit"
	"kioskvote.org/internal/kiosk"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestOperatorCommandsOnSQLite(t *testing.T) {
	t.Setenv("KIOSKVOTE_AUTH_SALT", "cmd-test-salt")
	store := []string{"--env-file", "", "--store", "sqlite", "--dsn", filepath.Join(t.TempDir(), "kioskvote.db")}

	out, err := run(t, append([]string{"migrate", "up"}, store...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "applied 0001_init")

	out, err = run(t, append([]string{"migrate", "status"}, store...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "applied 0001_init")
	assert.NotContains(t, out, "pending")

	out, err = run(t, append([]string{"kiosk", "add", "--name", "Hall A", "--comment", "north door"}, store...)...)
	require.NoError(t, err)
	var added struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Secret string `json:"secret"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &added))
	assert.Equal(t, "Hall A", added.Name)
	assert.Len(t, added.Secret, 32)
	assert.NotEmpty(t, added.ID)
	assert.NotContains(t, out, "auth_code")

	out, err = run(t, append([]string{"audit", "list", "--limit", "10"}, store...)...)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	var entry audit.Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "kiosk.registered", entry.Tag)
	assert.Contains(t, entry.Content, added.ID)
}

func TestMemoryStoreRefusesOperatorCommands(t *testing.T) {
	t.Setenv("KIOSKVOTE_AUTH_SALT", "cmd-test-salt")
	_, err := run(t, "audit", "list", "--env-file", "", "--store", "memory")
	assert.ErrorIs(t, err, errNotPersistent)

	_, err = run(t, "migrate", "up", "--env-file", "", "--store", "memory")
	assert.Error(t, err)

	_, err = run(t, "migrate", "sideways", "--env-file", "", "--store", "memory")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "kioskd "+version))
}

func TestBootstrapKiosks(t *testing.T) {
	ctx := context.Background()
	store := kiosk.NewInMemory()
	authn := kiosk.NewAuthenticator(store, "salt", time.Minute)

	require.NoError(t, bootstrapKiosks(ctx, authn, []string{"Hall A=hall-a-secret-0001"}))
	// A second start with the same secret is a no-op.
	require.NoError(t, bootstrapKiosks(ctx, authn, []string{"Hall A=hall-a-secret-0001"}))

	k, err := authn.Authenticate(ctx, "hall-a-secret-0001")
	require.NoError(t, err)
	assert.Equal(t, "Hall A", k.Name)

	assert.Error(t, bootstrapKiosks(ctx, authn, []string{"no-secret"}))
	assert.ErrorIs(t, bootstrapKiosks(ctx, authn, []string{"Hall B=short"}), kiosk.ErrInvalidInput)
}

func TestLoadConfigFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("KIOSKVOTE_STORE", "postgres")
	t.Setenv("KIOSKVOTE_DSN", "postgres://env")

	g := &globalFlags{}
	cmd := &cobra.Command{Use: "serve"}
	cmd.Flags().StringVar(&g.store, "store", "", "")
	cmd.Flags().StringVar(&g.dsn, "dsn", "", "")
	require.NoError(t, cmd.Flags().Set("store", "bolt"))

	cfg, err := loadConfig(cmd, g)
	require.NoError(t, err)
	assert.Equal(t, "bolt", cfg.Store)
	assert.Equal(t, "postgres://env", cfg.DSN)
}
