package billing

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookeep/ingest/internal/model"
	"github.com/bookeep/ingest/internal/store"
)

func newTestChecker(t *testing.T, plan string) (*Checker, *store.SQLiteStore, string) {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	org := &model.Organization{Name: "Org", Slug: "org", Plan: plan}
	require.NoError(t, st.InsertOrganization(ctx, org))

	return NewChecker(st), st, org.ID
}

func addDocuments(t *testing.T, st *store.SQLiteStore, orgID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := st.CreateDocument(context.Background(), store.NewDocument{
			OrgID:    orgID,
			Source:   model.DocumentSourceUpload,
			FilePath: "p",
			FileType: "image/jpeg",
		})
		require.NoError(t, err)
	}
}

func TestPlanFor(t *testing.T) {
	assert.Equal(t, 20, PlanFor("free").DocumentsPerMonth)
	assert.Equal(t, 1, PlanFor("free").EmailAccounts)
	assert.Equal(t, -1, PlanFor("business").DocumentsPerMonth)
	assert.Equal(t, -1, PlanFor("accountant").EmailAccounts)

	// Unknown plans degrade to free.
	assert.Equal(t, "free", PlanFor("enterprise-beta").Name)
}

func TestCheckDocumentQuota_FreePlan(t *testing.T) {
	c, st, orgID := newTestChecker(t, "free")
	ctx := context.Background()

	require.NoError(t, c.CheckDocumentQuota(ctx, orgID))

	addDocuments(t, st, orgID, 19)
	require.NoError(t, c.CheckDocumentQuota(ctx, orgID))

	addDocuments(t, st, orgID, 1)
	err := c.CheckDocumentQuota(ctx, orgID)
	require.ErrorIs(t, err, ErrLimitExceeded)
}

func TestCheckDocumentQuota_BusinessUnlimited(t *testing.T) {
	c, st, orgID := newTestChecker(t, "business")

	addDocuments(t, st, orgID, 25)
	require.NoError(t, c.CheckDocumentQuota(context.Background(), orgID))
}

func TestCheckDocumentQuota_UnknownOrg(t *testing.T) {
	c, _, _ := newTestChecker(t, "free")

	err := c.CheckDocumentQuota(context.Background(), "missing-org")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCheckEmailAccountQuota(t *testing.T) {
	c, st, orgID := newTestChecker(t, "free")
	ctx := context.Background()

	require.NoError(t, c.CheckEmailAccountQuota(ctx, orgID))

	_, err := st.CreateEmailAccount(ctx, &model.EmailAccount{
		OrgID:        orgID,
		Provider:     model.ProviderGmail,
		EmailAddress: "a@b.com",
	})
	require.NoError(t, err)

	err = c.CheckEmailAccountQuota(ctx, orgID)
	require.ErrorIs(t, err, ErrLimitExceeded)
}

func TestStartOfMonth(t *testing.T) {
	got := startOfMonth(time.Date(2025, 6, 17, 15, 4, 5, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), got)
}
