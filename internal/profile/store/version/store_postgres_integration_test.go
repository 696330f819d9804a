//go:build integration

package version_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"folio/internal/profile/models"
	profilestore "folio/internal/profile/store/profile"
	versionstore "folio/internal/profile/store/version"
	"folio/pkg/platform/sentinel"
)

type PostgresStoreSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	pool      *pgxpool.Pool
	versions  *versionstore.Postgres
	profiles  *profilestore.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("folio_test"),
		tcpostgres.WithUsername("folio"),
		tcpostgres.WithPassword("folio"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.pool, err = pgxpool.New(ctx, connStr)
	s.Require().NoError(err)
	s.Require().NoError(applyMigrations(ctx, s.pool))

	s.versions = versionstore.NewPostgres(s.pool)
	s.profiles = profilestore.NewPostgres(s.pool)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(), `TRUNCATE versions, profiles`)
	s.Require().NoError(err)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(raw)); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStoreSuite) TestVersionRoundTrip() {
	ctx := context.Background()
	draft := models.NewDraft("owner-1", models.Body{
		"name": "Aziz",
		"jlpt": map[string]any{"level": "N2"},
	}, time.Now().UTC())

	s.Require().NoError(s.versions.Create(ctx, draft))

	found, err := s.versions.FindByID(ctx, draft.ID)
	s.Require().NoError(err)
	s.Equal(draft.OwnerID, found.OwnerID)
	s.Equal(models.KindDraft, found.Kind)
	s.Equal([]string{"jlpt", "name"}, found.ChangedFields)
	s.Equal("N2", found.Body["jlpt"].(map[string]any)["level"])
	s.Equal(int64(1), found.Revision)

	byOwner, err := s.versions.FindByOwner(ctx, "owner-1", models.KindDraft)
	s.Require().NoError(err)
	s.Equal(draft.ID, byOwner.ID)
}

func (s *PostgresStoreSuite) TestVersionUniquePerOwnerAndKind() {
	ctx := context.Background()
	first := models.NewDraft("owner-1", models.Body{"name": "a"}, time.Now().UTC())
	s.Require().NoError(s.versions.Create(ctx, first))

	second := models.NewDraft("owner-1", models.Body{"name": "b"}, time.Now().UTC())
	s.Require().ErrorIs(s.versions.Create(ctx, second), sentinel.ErrConflict)

	// A different kind for the same owner is fine.
	pending := models.NewPending("owner-1", models.Body{"name": "a"}, []string{"name"}, models.StatusSubmitted, time.Now().UTC())
	s.Require().NoError(s.versions.Create(ctx, pending))
}

func (s *PostgresStoreSuite) TestVersionOptimisticLocking() {
	ctx := context.Background()
	draft := models.NewDraft("owner-1", models.Body{"name": "a"}, time.Now().UTC())
	s.Require().NoError(s.versions.Create(ctx, draft))

	stale := draft.Clone()

	draft.ApplyBody(models.Body{"name": "b"}, time.Now().UTC())
	s.Require().NoError(s.versions.Update(ctx, draft))
	s.Equal(int64(2), draft.Revision)

	stale.ApplyBody(models.Body{"name": "c"}, time.Now().UTC())
	s.Require().ErrorIs(s.versions.Update(ctx, stale), sentinel.ErrConflict)

	missing := models.NewDraft("owner-x", models.Body{}, time.Now().UTC())
	s.Require().ErrorIs(s.versions.Update(ctx, missing), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestProfileRoundTrip() {
	ctx := context.Background()
	profile := models.NewProfile("owner-1", models.Body{"name": "Aziz"}, time.Now().UTC())
	s.Require().NoError(s.profiles.Create(ctx, profile))

	found, err := s.profiles.FindByOwner(ctx, "owner-1")
	s.Require().NoError(err)
	s.Equal("Aziz", found.Body["name"])
	s.False(found.Visible)

	found.Visible = true
	found.Body["name"] = "Azizbek"
	found.UpdatedAt = time.Now().UTC()
	s.Require().NoError(s.profiles.Update(ctx, found))

	again, err := s.profiles.FindByOwner(ctx, "owner-1")
	s.Require().NoError(err)
	s.True(again.Visible)
	s.Equal("Azizbek", again.Body["name"])

	s.Require().ErrorIs(s.profiles.Create(ctx, profile), sentinel.ErrConflict)

	_, err = s.profiles.FindByOwner(ctx, "owner-unknown")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
