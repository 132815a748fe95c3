package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bundle-store/internal/config"
	"github.com/iliyamo/bundle-store/internal/model"
)

func TestCommandTree(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "migrate", "create-admin"} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
	assert.NotNil(t, root.RunE, "running without a subcommand serves the API")
	assert.NotNil(t, root.PersistentFlags().Lookup("env-file"))
}

func TestPaymentMethods(t *testing.T) {
	got, err := paymentMethods([]string{"gateway", " Bank_Transfer "})
	require.NoError(t, err)
	assert.Equal(t, []model.PaymentMethod{model.MethodGateway, model.MethodBankTransfer}, got)

	_, err = paymentMethods([]string{"cash"})
	assert.ErrorContains(t, err, "PAYMENT_METHODS")
}

func TestUnknownArtifactBackend(t *testing.T) {
	_, err := newArtifactStore(context.Background(), config.ArtifactConfig{Backend: "ftp"}, zerolog.Nop())
	assert.ErrorContains(t, err, "ARTIFACT_BACKEND")
}

func TestMigrateAndCreateAdmin(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("APP_PORT", "0")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "store.db"))
	t.Setenv("BCRYPT_COST", "4")
	missing := filepath.Join(t.TempDir(), "absent.env")

	run := func(args ...string) (string, error) {
		root := newRootCommand()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(append([]string{"--env-file", missing}, args...))
		err := root.ExecuteContext(context.Background())
		return out.String(), err
	}

	_, err := run("migrate")
	require.NoError(t, err)

	out, err := run("create-admin", "--login", "Admin@Example.com", "--password", "adminpass")
	require.NoError(t, err)
	assert.Contains(t, out, "admin admin@example.com ready")

	// A second run promotes the same account instead of failing.
	out, err = run("create-admin", "--login", "admin@example.com", "--password", "rotated-pass")
	require.NoError(t, err)
	assert.Contains(t, out, "admin admin@example.com ready (id 1)")

	_, err = run("create-admin", "--login", "admin@example.com")
	assert.ErrorContains(t, err, "password")
}
