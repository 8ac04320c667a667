package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/statdig_server/internal/lifecycle"
	"github.com/qs3c/statdig_server/internal/model"
	"github.com/qs3c/statdig_server/internal/pkg/apperr"
	"github.com/qs3c/statdig_server/internal/pkg/queue"
	"github.com/qs3c/statdig_server/internal/repository"
	"github.com/qs3c/statdig_server/internal/testutil"
)

type stubDispatcher struct {
	mu   sync.Mutex
	jobs []*queue.JobMessage
	err  error
}

func (d *stubDispatcher) Push(ctx context.Context, msg *queue.JobMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, msg)
	return nil
}

func setupPipelineService(t *testing.T, dispatcher Dispatcher) (*PipelineService, *gorm.DB, *model.User) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	sampleRepo := repository.NewSampleRepository(db)
	functionRepo := repository.NewFunctionRepository(db)
	detailRepo := repository.NewDetailRepository(db)
	registry := lifecycle.NewRegistry(sampleRepo, functionRepo, detailRepo, zap.NewNop())

	svc := NewPipelineService(registry, sampleRepo, functionRepo, detailRepo, dispatcher, zap.NewNop())
	return svc, db, testutil.TestUser(t, db)
}

func TestPipelineService_TriggerExtract(t *testing.T) {
	dispatcher := &stubDispatcher{}
	svc, db, user := setupPipelineService(t, dispatcher)
	sample := testutil.TestSample(t, db, user.ID)

	resp, err := svc.TriggerExtract(context.Background(), sample.Hash, user.ID)
	require.NoError(t, err)
	assert.True(t, resp.Queued)
	assert.Equal(t, int(model.StageExtracting), resp.Stage)
	assert.Equal(t, "Extracting", resp.StageLabel)

	require.Len(t, dispatcher.jobs, 1)
	job := dispatcher.jobs[0]
	assert.Equal(t, queue.KindExtract, job.Kind)
	assert.Equal(t, sample.Hash, job.SampleHash)
	assert.Equal(t, user.ID, job.UserID)
	assert.NotEmpty(t, job.JobID)

	// 提取进行中再次触发是阶段冲突
	_, err = svc.TriggerExtract(context.Background(), sample.Hash, user.ID)
	assert.ErrorIs(t, err, repository.ErrStageConflict)
	assert.Len(t, dispatcher.jobs, 1)
}

func TestPipelineService_TriggerExtract_AlreadyExtracted(t *testing.T) {
	dispatcher := &stubDispatcher{}
	svc, db, user := setupPipelineService(t, dispatcher)
	sample := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageExtracted))
	testutil.TestFunctions(t, db, sample.Hash, map[string]string{"entry": "void entry(void) {}", "main": "int main() {}"})

	resp, err := svc.TriggerExtract(context.Background(), sample.Hash, user.ID)
	require.NoError(t, err)
	assert.True(t, resp.AlreadyExtracted)
	assert.EqualValues(t, 2, resp.FunctionCount)
	assert.Equal(t, "Extracted", resp.StageLabel)
	assert.Empty(t, dispatcher.jobs)
}

func TestPipelineService_DispatchFailureRollsBack(t *testing.T) {
	dispatcher := &stubDispatcher{err: errors.New("redis: connection refused")}
	svc, db, user := setupPipelineService(t, dispatcher)
	sample := testutil.TestSample(t, db, user.ID)

	_, err := svc.TriggerExtract(context.Background(), sample.Hash, user.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	status, err := svc.ExtractStatus(sample.Hash)
	require.NoError(t, err)
	assert.Equal(t, int(model.StageUploaded), status.Stage)
	assert.Contains(t, status.ErrorMessage, "connection refused")
	assert.False(t, status.AlreadyExtracted)
}

func TestPipelineService_TriggerAnalyse(t *testing.T) {
	t.Run("no functions", func(t *testing.T) {
		svc, db, user := setupPipelineService(t, &stubDispatcher{})
		sample := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageExtracted))

		_, err := svc.TriggerAnalyse(context.Background(), sample.Hash, user.ID)
		assert.ErrorIs(t, err, ErrNoFunctions)
	})

	t.Run("dispatched", func(t *testing.T) {
		dispatcher := &stubDispatcher{}
		svc, db, user := setupPipelineService(t, dispatcher)
		sample := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageExtracted))
		testutil.TestFunctions(t, db, sample.Hash, map[string]string{"entry": "void entry(void) {}"})

		resp, err := svc.TriggerAnalyse(context.Background(), sample.Hash, user.ID)
		require.NoError(t, err)
		assert.True(t, resp.Queued)
		assert.Equal(t, "Analysing", resp.StageLabel)
		require.Len(t, dispatcher.jobs, 1)
		assert.Equal(t, queue.KindAnalyse, dispatcher.jobs[0].Kind)

		status, err := svc.AnalyseStatus(sample.Hash)
		require.NoError(t, err)
		assert.Equal(t, int(model.StageAnalysing), status.Stage)
		assert.Empty(t, status.Analysis)
	})

	t.Run("cached report", func(t *testing.T) {
		dispatcher := &stubDispatcher{}
		svc, db, user := setupPipelineService(t, dispatcher)
		sample := testutil.TestSample(t, db, user.ID,
			testutil.WithStage(model.StageAnalysed),
			testutil.WithReport("# Report"))
		require.NoError(t, repository.NewSampleRepository(db).SetVerdict(sample.Hash, "False"))

		resp, err := svc.TriggerAnalyse(context.Background(), sample.Hash, user.ID)
		require.NoError(t, err)
		assert.True(t, resp.AlreadyAnalyzed)
		assert.Equal(t, "# Report", resp.Analysis)
		require.NotNil(t, resp.Malicious)
		assert.Equal(t, "False", *resp.Malicious)
		assert.Empty(t, dispatcher.jobs)

		status, err := svc.AnalyseStatus(sample.Hash)
		require.NoError(t, err)
		assert.True(t, status.AlreadyAnalyzed)
		assert.Equal(t, "# Report", status.Analysis)
	})
}

func TestPipelineService_TriggerOrganise(t *testing.T) {
	dispatcher := &stubDispatcher{}
	svc, db, user := setupPipelineService(t, dispatcher)

	early := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageExtracted))
	_, err := svc.TriggerOrganise(context.Background(), early.Hash, user.ID)
	assert.ErrorIs(t, err, ErrNotAnalysed)

	sample := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageAnalysed))
	resp, err := svc.TriggerOrganise(context.Background(), sample.Hash, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Organising...", resp.StageLabel)
	require.Len(t, dispatcher.jobs, 1)
	assert.Equal(t, queue.KindOrganise, dispatcher.jobs[0].Kind)

	_, err = svc.TriggerOrganise(context.Background(), sample.Hash, user.ID)
	assert.ErrorIs(t, err, ErrAlreadyOrganising)

	done := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageOrganised))
	resp, err = svc.TriggerOrganise(context.Background(), done.Hash, user.ID)
	require.NoError(t, err)
	assert.True(t, resp.AlreadyOrganised)
	assert.Equal(t, int(model.StageOrganised), resp.Stage)
	assert.Len(t, dispatcher.jobs, 1)
}

func TestPipelineService_GetOrganise(t *testing.T) {
	svc, db, user := setupPipelineService(t, &stubDispatcher{})
	detailRepo := repository.NewDetailRepository(db)

	t.Run("json transcript", func(t *testing.T) {
		sample := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageOrganised))
		require.NoError(t, detailRepo.SetTranscript(sample.Hash, `[{"role":"assistant","content":"done"}]`))

		resp, err := svc.GetOrganise(sample.Hash)
		require.NoError(t, err)
		assert.Equal(t, "Organised", resp.StageLabel)
		assert.JSONEq(t, `[{"role":"assistant","content":"done"}]`, string(resp.Transcript))
		assert.Empty(t, resp.RawResponse)
	})

	t.Run("raw transcript", func(t *testing.T) {
		sample := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageOrganised))
		require.NoError(t, detailRepo.SetTranscript(sample.Hash, "not json"))

		resp, err := svc.GetOrganise(sample.Hash)
		require.NoError(t, err)
		assert.Nil(t, resp.Transcript)
		assert.Equal(t, "not json", resp.RawResponse)
	})

	t.Run("unknown sample", func(t *testing.T) {
		_, err := svc.GetOrganise("missing")
		assert.ErrorIs(t, err, ErrSampleNotFound)
	})
}
