package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/statdig_server/config"
	"github.com/qs3c/statdig_server/internal/model"
	"github.com/qs3c/statdig_server/internal/pkg/llm"
	"github.com/qs3c/statdig_server/internal/pkg/summary"
	"github.com/qs3c/statdig_server/internal/repository"
	"github.com/qs3c/statdig_server/internal/testutil"
)

func setupSearchService(t *testing.T, client *llm.Client) (*SearchService, *gorm.DB) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	rdb, _ := testutil.SetupTestRedis(t)
	svc := NewSearchService(
		repository.NewSearchRepository(db, repository.DialectBasic, ""),
		repository.NewTagRepository(db),
		summary.NewStore(rdb, time.Minute),
		client,
		0,
		zap.NewNop(),
	)
	return svc, db
}

func TestSearchService_Classify(t *testing.T) {
	tests := []struct {
		name string
		step testutil.ChatStep
		want string
	}{
		{"exact", testutil.Reply("CLASS_EXACT"), SearchTypeExact},
		{"semantic", testutil.Reply("CLASS_SEMANTIC"), SearchTypeSemantic},
		{"unrecognised reply", testutil.Reply("I am not sure"), SearchTypeSemantic},
		{"provider failure", testutil.Fail(errors.New("timeout")), SearchTypeSemantic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := testutil.NewFakeChat(tt.step)
			svc, _ := setupSearchService(t, llm.NewWithAPI(chat, "test-model", zap.NewNop()))

			assert.Equal(t, tt.want, svc.Classify(context.Background(), "192.168.1.10"))
			require.Len(t, chat.Requests(), 1)
			assert.Equal(t, "Classify this search term: 192.168.1.10", chat.Requests()[0].Messages[1].Content)
		})
	}
}

func TestSearchService_Classify_MissingAPIKey(t *testing.T) {
	svc, _ := setupSearchService(t, llm.New(config.LLMConfig{}, zap.NewNop()))
	assert.Equal(t, SearchTypeSemantic, svc.Classify(context.Background(), "anything"))
}

func TestSearchService_SearchAndSummary(t *testing.T) {
	chat := testutil.NewFakeChat(
		testutil.Reply("CLASS_SEMANTIC"),
		testutil.Reply("Both results point to registry persistence."),
	)
	svc, db := setupSearchService(t, llm.NewWithAPI(chat, "test-model", zap.NewNop()))

	user := testutil.TestUser(t, db)
	sample := testutil.TestSample(t, db, user.ID, testutil.WithOverview("Dropper with registry persistence"))
	testutil.TestFunctions(t, db, sample.Hash, map[string]string{"FUN_1": "void FUN_1(void) {}"})
	_, err := repository.NewFunctionRepository(db).UpdateDescription(sample.Hash, "FUN_1", "Writes a registry run key")
	require.NoError(t, err)

	resp, err := svc.Search(context.Background(), "registry persistence")
	require.NoError(t, err)
	assert.Equal(t, SearchTypeSemantic, resp.SearchType)
	require.Equal(t, 2, resp.TotalCount)
	assert.Equal(t, "sample", resp.Results[0].Type)
	assert.Equal(t, 1.0, resp.Results[0].Score)
	assert.Equal(t, "function", resp.Results[1].Type)
	assert.Equal(t, "FUN_1", resp.Results[1].Name)
	require.NotEmpty(t, resp.SummaryJob)

	svc.Wait()

	// 摘要请求只带前几条结果
	reqs := chat.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1].Messages[1].Content, `Search term: "registry persistence"`)
	assert.Contains(t, reqs[1].Messages[1].Content, "Function: FUN_1")

	got, err := svc.GetSummary(context.Background(), resp.SummaryJob)
	require.NoError(t, err)
	assert.Equal(t, SummaryStatusCompleted, got.Status)
	assert.Equal(t, "Both results point to registry persistence.", got.Summary)

	_, err = svc.GetSummary(context.Background(), resp.SummaryJob)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSearchService_NoResults(t *testing.T) {
	chat := testutil.NewFakeChat(testutil.Reply("CLASS_EXACT"))
	svc, _ := setupSearchService(t, llm.NewWithAPI(chat, "test-model", zap.NewNop()))

	resp, err := svc.Search(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, SearchTypeExact, resp.SearchType)
	assert.Empty(t, resp.Results)

	svc.Wait()
	assert.Equal(t, 1, chat.Calls())

	got, err := svc.GetSummary(context.Background(), resp.SummaryJob)
	require.NoError(t, err)
	assert.Equal(t, noResultsSummary, got.Summary)
}

func TestSearchService_SummaryWithoutAPIKey(t *testing.T) {
	svc, db := setupSearchService(t, llm.New(config.LLMConfig{}, zap.NewNop()))
	user := testutil.TestUser(t, db)
	testutil.TestSample(t, db, user.ID, testutil.WithOverview("Keylogger"))

	resp, err := svc.Search(context.Background(), "keylogger")
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	svc.Wait()
	got, err := svc.GetSummary(context.Background(), resp.SummaryJob)
	require.NoError(t, err)
	assert.Equal(t, summaryUnavailable, got.Summary)
}

func TestSearchService_Merge(t *testing.T) {
	svc, db := setupSearchService(t, llm.NewWithAPI(testutil.NewFakeChat(), "test-model", zap.NewNop()))
	user := testutil.TestUser(t, db)
	locker := testutil.TestSample(t, db, user.ID)
	testutil.TestTag(t, db, "Tag00001", "ransomware")
	testutil.TestTag(t, db, "Tag00002", "crypto")
	tagRepo := repository.NewTagRepository(db)
	require.NoError(t, tagRepo.LinkSample("Tag00001", locker.Hash))
	require.NoError(t, tagRepo.LinkSample("Tag00002", locker.Hash))

	functionHits := []*repository.FunctionHit{
		{SampleHash: locker.Hash, Name: "FUN_1", Description: "Encrypts files", Score: 0.4},
		{SampleHash: locker.Hash, Name: "FUN_2", Description: model.UnindexedString, Score: 0.9},
		{SampleHash: locker.Hash, Name: "FUN_3", Description: "Never reached", Score: 0.95},
	}
	sampleHits := []*repository.SampleHit{
		{Hash: locker.Hash, Filename: "locker.exe", Overview: "Ransomware", Score: 0.8},
		{Hash: "bbb", Filename: "pending.exe", Overview: model.UnindexedString, Score: 1},
	}

	results, err := svc.merge(functionHits, sampleHits)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "locker.exe", results[0].Filename)
	assert.Equal(t, "crypto, ransomware", results[0].Tags)
	assert.Equal(t, "FUN_1", results[1].Name)
}
