package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookeep/ingest/internal/extraction"
	"github.com/bookeep/ingest/internal/model"
	"github.com/bookeep/ingest/internal/storage"
	"github.com/bookeep/ingest/internal/store"
)

type stubExtractor struct {
	result *extraction.Result
	err    error
	calls  int
	seen   []byte
}

func (s *stubExtractor) Extract(_ context.Context, data []byte, _ string) (*extraction.Result, error) {
	s.calls++
	s.seen = data
	return s.result, s.err
}

func vendorResult(name string) *extraction.Result {
	conf := 0.9
	return &extraction.Result{
		VendorName:      &name,
		DocumentType:    "receipt",
		Currency:        "ILS",
		LineItems:       []model.LineItem{},
		RawOCRText:      "text",
		ConfidenceScore: conf,
		Model:           "claude-sonnet-4-5-20250929",
	}
}

type fixture struct {
	store *store.SQLiteStore
	files *storage.Files
	doc   *model.Document
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	org := &model.Organization{Name: "Org", Slug: "org"}
	require.NoError(t, st.InsertOrganization(ctx, org))

	files, err := storage.NewFiles(t.TempDir())
	require.NoError(t, err)

	rel, err := files.Save(org.ID, "image/jpeg", []byte("jpeg-bytes"))
	require.NoError(t, err)

	doc, err := st.CreateDocument(ctx, store.NewDocument{
		OrgID:    org.ID,
		Source:   model.DocumentSourceUpload,
		FilePath: rel,
		FileType: "image/jpeg",
	})
	require.NoError(t, err)

	return &fixture{store: st, files: files, doc: doc}
}

func TestProcessor_Process_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ext := &stubExtractor{result: vendorResult("Cafe Aroma")}

	p := NewProcessor(f.store, f.files, ext)
	require.NoError(t, p.Process(ctx, f.doc.ID))

	doc, err := f.store.GetDocument(ctx, f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusReady, doc.Status)

	data, err := f.store.GetExtractedData(ctx, f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cafe Aroma", data.VendorName)
	assert.Equal(t, "claude-sonnet-4-5-20250929", data.ExtractionModel)
	assert.False(t, data.IsUserEdited)

	assert.Equal(t, []byte("jpeg-bytes"), ext.seen)
}

func TestProcessor_Process_MissingDocumentSkipsRetry(t *testing.T) {
	f := newFixture(t)

	p := NewProcessor(f.store, f.files, &stubExtractor{})
	err := p.Process(context.Background(), "no-such-doc")
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessor_Process_ExtractionFailureRollsBackToPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := NewProcessor(f.store, f.files, &stubExtractor{err: errors.New("model unavailable")})
	err := p.Process(ctx, f.doc.ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	doc, err := f.store.GetDocument(ctx, f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusPending, doc.Status)

	_, err = f.store.GetExtractedData(ctx, f.doc.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessor_Process_ReprocessUpsertsInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := NewProcessor(f.store, f.files, &stubExtractor{result: vendorResult("First Pass")})
	require.NoError(t, p.Process(ctx, f.doc.ID))
	first, err := f.store.GetExtractedData(ctx, f.doc.ID)
	require.NoError(t, err)

	p = NewProcessor(f.store, f.files, &stubExtractor{result: vendorResult("Second Pass")})
	require.NoError(t, p.Process(ctx, f.doc.ID))
	second, err := f.store.GetExtractedData(ctx, f.doc.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Second Pass", second.VendorName)
}

func TestProcessor_Process_ReprocessKeepsUserEditedFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := NewProcessor(f.store, f.files, &stubExtractor{result: vendorResult("Machine")})
	require.NoError(t, p.Process(ctx, f.doc.ID))
	require.NoError(t, f.store.MarkExtractionUserEdited(ctx, f.doc.ID, map[string]any{
		"vendor_name": "Human Fixed",
	}))

	require.NoError(t, p.Process(ctx, f.doc.ID))

	data, err := f.store.GetExtractedData(ctx, f.doc.ID)
	require.NoError(t, err)
	assert.True(t, data.IsUserEdited)
	assert.Equal(t, "Machine", data.VendorName)
}

func TestToUpsert_ParsesDate(t *testing.T) {
	date := "2025-03-14"
	r := vendorResult("X")
	r.DocumentDate = &date

	up := toUpsert(r)
	require.NotNil(t, up.DocumentDate)
	assert.Equal(t, 2025, up.DocumentDate.Year())

	bad := "not-a-date"
	r.DocumentDate = &bad
	up = toUpsert(r)
	assert.Nil(t, up.DocumentDate)
}
