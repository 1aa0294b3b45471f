package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/dispatch-console/internal/models"
	"github.com/example/dispatch-console/internal/storage"
	"github.com/example/dispatch-console/internal/viewsync"
)

const fleetYAML = `drivers:
  - id: D1
    loc: {lat: 0.3236, lon: 32.5811}
    batteryPct: 78
    online: true
  - id: D2
    loc: {lat: 0.3336, lon: 32.5811}
    batteryPct: 32
    activeTripCount: 1
    online: true
  - id: D3
    loc: {lat: 0.3186, lon: 32.5811}
    batteryPct: 22
    activeTripCount: 2
    online: true
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMatchCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fleetYAML), 0o600))

	out, err := execute(t, "match", "--fleet", path, "--distance", "8", "--duration", "20")
	require.NoError(t, err)
	assert.Contains(t, out, "default: D1")
	assert.Contains(t, out, "battery too low for requested distance")
	assert.Contains(t, out, "limited buffer for return trip")
}

func TestMatchRequiresFleet(t *testing.T) {
	_, err := execute(t, "match")
	assert.Error(t, err)
}

func TestMatchUnknownPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fleetYAML), 0o600))
	_, err := execute(t, "match", "--fleet", path, "--policy", "coinflip")
	assert.ErrorContains(t, err, "coinflip")
}

func TestRequirementsCommand(t *testing.T) {
	out, err := execute(t, "requirements", "ems")
	require.NoError(t, err)
	assert.Equal(t, "patient\nincidentType\npriority\npickup\n", out)

	_, err = execute(t, "requirements", "hovercraft")
	assert.Error(t, err)
}

func TestViewsShow(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "views.db")
	ss, err := storage.OpenSQL("sqlite", path)
	require.NoError(t, err)
	require.NoError(t, ss.Migrate(ctx))
	repo := viewsync.NewRepository(storage.Scoped(ss, "op-1"), nil)
	_, _, err = repo.MarkRead(ctx, viewsync.ClassOnboarding, "C-1")
	require.NoError(t, err)
	_, err = repo.SetStatus(ctx, viewsync.ClassOnboarding, "C-1", models.CaseNeedsInfo, false)
	require.NoError(t, err)
	require.NoError(t, ss.Close())

	out, err := execute(t, "views", "show", "--sqlite", path, "--session", "op-1", "--class", "onboarding")
	require.NoError(t, err)
	assert.Equal(t, "read: C-1\nstatus C-1: Needs Info\n", out)
}
