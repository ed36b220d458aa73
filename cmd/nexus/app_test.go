package main

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itou-labs/nexus-sync/internal/config"
	"github.com/itou-labs/nexus-sync/internal/nexus/db"
	"github.com/itou-labs/nexus-sync/internal/nexus/fullsync"
)

const testBaseURL = "http://nexus.test/api"

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	return &config.Config{
		API:      config.API{BaseURL: baseURL, Token: "secret", ChunkSize: 2},
		Sync:     config.Sync{SetChunkSize: 10},
		Database: config.Database{Path: filepath.Join(t.TempDir(), "nexus.db")},
	}
}

func TestAppSyncsCommittedChanges(t *testing.T) {
	defer gock.Off()
	a, err := newApp(testConfig(t, testBaseURL))
	require.NoError(t, err)
	defer a.Close()

	gock.New(testBaseURL).
		Post("/users").
		MatchHeader("Authorization", "^Token secret$").
		BodyString(`[{"id":"1","email":"alice@example.org","first_name":"Alice","last_name":"","kind":""}]`).
		Reply(http.StatusOK)

	ctx := context.Background()
	err = a.store.Atomic(ctx, func(tx *db.Tx) error {
		return tx.SaveUser(ctx, &db.User{Email: "alice@example.org", FirstName: "Alice", IsActive: true})
	})
	require.NoError(t, err)
	assert.True(t, gock.IsDone())
}

func TestAppFullSync(t *testing.T) {
	defer gock.Off()
	cfg := testConfig(t, "")
	local, err := newApp(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	err = local.store.Atomic(ctx, func(tx *db.Tx) error {
		for _, email := range []string{"a@example.org", "b@example.org", "c@example.org"} {
			if err := tx.SaveUser(ctx, &db.User{Email: email, IsActive: true}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, local.Close())

	gock.New(testBaseURL).Post("/sync-start").
		Reply(http.StatusOK).
		JSON(map[string]any{"started_at": "2024-05-01T10:00:00+00:00"})
	gock.New(testBaseURL).Post("/structures").BodyString(`^\[\]$`).Reply(http.StatusOK)
	gock.New(testBaseURL).Post("/users").BodyString(`"a@example.org".*"b@example.org"`).Reply(http.StatusOK)
	gock.New(testBaseURL).Post("/users").BodyString(`"c@example.org"`).Reply(http.StatusOK)
	gock.New(testBaseURL).Post("/memberships").BodyString(`^\[\]$`).Reply(http.StatusOK)
	gock.New(testBaseURL).Post("/sync-completed").
		JSON(map[string]any{"started_at": "2024-05-01T10:00:00+00:00"}).
		Reply(http.StatusOK)

	cfg.API.BaseURL = testBaseURL
	a, err := newApp(cfg)
	require.NoError(t, err)
	defer a.Close()

	report, err := a.orchestrator().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, fullsync.StateCompleted, report.State)
	assert.Equal(t, []fullsync.Count{
		{Collection: "structures", Records: 0},
		{Collection: "users", Records: 3},
		{Collection: "memberships", Records: 0},
	}, report.Counts)
	assert.True(t, gock.IsDone())
}

func TestAppWithoutRemoteSkipsFullSync(t *testing.T) {
	a, err := newApp(testConfig(t, ""))
	require.NoError(t, err)
	defer a.Close()

	report, err := a.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
}
