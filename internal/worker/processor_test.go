package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/statdig_server/internal/agent"
	"github.com/qs3c/statdig_server/internal/lifecycle"
	"github.com/qs3c/statdig_server/internal/model"
	"github.com/qs3c/statdig_server/internal/pkg/apperr"
	"github.com/qs3c/statdig_server/internal/pkg/decompiler"
	"github.com/qs3c/statdig_server/internal/pkg/filestore"
	"github.com/qs3c/statdig_server/internal/pkg/llm"
	"github.com/qs3c/statdig_server/internal/pkg/pubsub"
	"github.com/qs3c/statdig_server/internal/pkg/queue"
	"github.com/qs3c/statdig_server/internal/repository"
	"github.com/qs3c/statdig_server/internal/service"
	"github.com/qs3c/statdig_server/internal/testutil"
)

type extractFunc func(ctx context.Context, hash string) (*service.ExtractionResult, error)

func (f extractFunc) Extract(ctx context.Context, hash string) (*service.ExtractionResult, error) {
	return f(ctx, hash)
}

type analyseFunc func(ctx context.Context, hash string) (*service.AnalysisResult, error)

func (f analyseFunc) Analyse(ctx context.Context, hash string) (*service.AnalysisResult, error) {
	return f(ctx, hash)
}

type organiseFunc func(ctx context.Context, hash string, progress agent.ProgressFunc) error

func (f organiseFunc) Run(ctx context.Context, hash string, progress agent.ProgressFunc) error {
	return f(ctx, hash, progress)
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []pubsub.ProgressMessage
}

func (p *recordingPublisher) PublishProgress(ctx context.Context, msg *pubsub.ProgressMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, *msg)
	return nil
}

func (p *recordingPublisher) statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.messages))
	for i, m := range p.messages {
		out[i] = m.Status + "/" + m.Step
	}
	return out
}

func (p *recordingPublisher) last() pubsub.ProgressMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messages[len(p.messages)-1]
}

type processorFixture struct {
	db        *gorm.DB
	publisher *recordingPublisher
	registry  *lifecycle.Registry
	user      *model.User
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	registry := lifecycle.NewRegistry(
		repository.NewSampleRepository(db),
		repository.NewFunctionRepository(db),
		repository.NewDetailRepository(db),
		zap.NewNop())
	return &processorFixture{
		db:        db,
		publisher: &recordingPublisher{},
		registry:  registry,
		user:      testutil.TestUser(t, db),
	}
}

func (f *processorFixture) processor(e Extractor, a Analyser, o Organiser) *Processor {
	return NewProcessor(f.registry, e, a, o, f.publisher, zap.NewNop())
}

func (f *processorFixture) sample(t *testing.T, hash string) *model.Sample {
	t.Helper()
	var s model.Sample
	require.NoError(t, f.db.Where("hash = ?", hash).First(&s).Error)
	return &s
}

func job(kind, hash string) *queue.JobMessage {
	return &queue.JobMessage{JobID: "job-1", Kind: kind, SampleHash: hash, UserID: 1}
}

func TestProcessor_ExtractCompletes(t *testing.T) {
	f := newProcessorFixture(t)
	s := testutil.TestSample(t, f.db, f.user.ID, testutil.WithStage(model.StageExtracting))
	require.NoError(t, f.db.Model(&model.Sample{}).Where("hash = ?", s.Hash).
		Update("error_message", "external_tool_error: previous failure").Error)

	p := f.processor(extractFunc(func(ctx context.Context, hash string) (*service.ExtractionResult, error) {
		assert.Equal(t, s.Hash, hash)
		return &service.ExtractionResult{FunctionCount: 3}, nil
	}), nil, nil)

	require.NoError(t, p.Process(context.Background(), job(queue.KindExtract, s.Hash)))

	got := f.sample(t, s.Hash)
	assert.Equal(t, model.StageExtracted, got.Stage)
	assert.Empty(t, got.ErrorMessage)

	assert.Equal(t, []string{"processing/decompiling", "completed/done"}, f.publisher.statuses())
	first := f.publisher.messages[0]
	assert.Equal(t, "sample_progress", first.Type)
	assert.Equal(t, pubsub.StepProgress[pubsub.StepDecompiling], first.Progress)
	assert.NotEmpty(t, first.Message)
	last := f.publisher.last()
	assert.Equal(t, "sample_progress", last.Type)
	assert.Equal(t, int(model.StageExtracted), last.Stage)
	assert.Equal(t, "Extracted", last.StageLabel)
	assert.Equal(t, 100, last.Progress)
}

func TestProcessor_AnalyseFailureRollsBack(t *testing.T) {
	f := newProcessorFixture(t)
	s := testutil.TestSample(t, f.db, f.user.ID, testutil.WithStage(model.StageAnalysing))

	p := f.processor(nil, analyseFunc(func(ctx context.Context, hash string) (*service.AnalysisResult, error) {
		return nil, &llm.ProviderError{Op: "analyse", Err: errors.New("upstream 500")}
	}), nil)

	err := p.Process(context.Background(), job(queue.KindAnalyse, s.Hash))
	require.Error(t, err)

	got := f.sample(t, s.Hash)
	assert.Equal(t, model.StageExtracted, got.Stage)
	assert.True(t, strings.HasPrefix(got.ErrorMessage, "provider_error: "), got.ErrorMessage)
	assert.Contains(t, got.ErrorMessage, "upstream 500")

	last := f.publisher.last()
	assert.Equal(t, pubsub.StatusFailed, last.Status)
	assert.Equal(t, got.ErrorMessage, last.Error)
}

func TestProcessor_OrganiseReportsProgress(t *testing.T) {
	f := newProcessorFixture(t)
	s := testutil.TestSample(t, f.db, f.user.ID, testutil.WithStage(model.StageOrganising))

	p := f.processor(nil, nil, organiseFunc(func(ctx context.Context, hash string, progress agent.ProgressFunc) error {
		progress(agent.StepResearching, 1)
		progress(agent.StepResearching, 2)
		progress(agent.StepEnriching, 0)
		return nil
	}))

	require.NoError(t, p.Process(context.Background(), job(queue.KindOrganise, s.Hash)))
	assert.Equal(t, model.StageOrganised, f.sample(t, s.Hash).Stage)
	assert.Equal(t, []string{
		"processing/researching", "processing/researching", "processing/enriching", "completed/done",
	}, f.publisher.statuses())
}

func TestProcessor_OrganiseFailureReturnsToAnalysed(t *testing.T) {
	f := newProcessorFixture(t)
	s := testutil.TestSample(t, f.db, f.user.ID, testutil.WithStage(model.StageOrganising))

	p := f.processor(nil, nil, organiseFunc(func(ctx context.Context, hash string, progress agent.ProgressFunc) error {
		return agent.ErrNoReport
	}))

	assert.ErrorIs(t, p.Process(context.Background(), job(queue.KindOrganise, s.Hash)), agent.ErrNoReport)
	got := f.sample(t, s.Hash)
	assert.Equal(t, model.StageAnalysed, got.Stage)
	assert.True(t, strings.HasPrefix(got.ErrorMessage, "not_found: "))
}

func TestProcessor_PanicRollsBack(t *testing.T) {
	f := newProcessorFixture(t)
	s := testutil.TestSample(t, f.db, f.user.ID, testutil.WithStage(model.StageExtracting))

	p := f.processor(extractFunc(func(ctx context.Context, hash string) (*service.ExtractionResult, error) {
		panic("boom")
	}), nil, nil)

	err := p.Process(context.Background(), job(queue.KindExtract, s.Hash))
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	got := f.sample(t, s.Hash)
	assert.Equal(t, model.StageUploaded, got.Stage)
	assert.Contains(t, got.ErrorMessage, "boom")
}

func TestProcessor_StageChangedUnderneath(t *testing.T) {
	f := newProcessorFixture(t)
	// 超时恢复已把样本回滚
	s := testutil.TestSample(t, f.db, f.user.ID, testutil.WithStage(model.StageUploaded))

	called := false
	p := f.processor(extractFunc(func(ctx context.Context, hash string) (*service.ExtractionResult, error) {
		called = true
		return &service.ExtractionResult{FunctionCount: 1}, nil
	}), nil, nil)

	err := p.Process(context.Background(), job(queue.KindExtract, s.Hash))
	assert.ErrorIs(t, err, ErrJobSuperseded)
	assert.False(t, called)
	assert.Equal(t, model.StageUploaded, f.sample(t, s.Hash).Stage)
	assert.Empty(t, f.publisher.statuses())
}

func TestProcessor_ExtractAfterStaleRecovery(t *testing.T) {
	f := newProcessorFixture(t)
	s := testutil.TestSample(t, f.db, f.user.ID)

	store, err := filestore.NewLocal(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), filestore.SampleKey(s.Hash), []byte("MZ")))

	runner := &testutil.FakeDecompiler{Result: &decompiler.Result{
		Functions: map[string]decompiler.Function{
			"entry": {C: "void entry(void) {}", Sig: "void entry(void)"},
			"main":  {C: "int main(void) { return 0; }", Sig: "int main(void)"},
		},
		Raw: []byte(`{"entry":{"c":"void entry(void) {}","sig":"void entry(void)"},"main":{"c":"int main(void) { return 0; }","sig":"int main(void)"}}`),
	}}
	functionRepo := repository.NewFunctionRepository(f.db)
	extractor := service.NewExtractionService(functionRepo, store, runner, zap.NewNop())
	p := f.processor(extractor, nil, nil)

	// 任务排队期间被超时恢复回滚
	_, err = f.registry.BeginExtraction(s.Hash)
	require.NoError(t, err)
	require.NoError(t, f.registry.Rollback(s.Hash, model.StageExtracting, errors.New("job did not finish")))

	err = p.Process(context.Background(), job(queue.KindExtract, s.Hash))
	assert.ErrorIs(t, err, ErrJobSuperseded)
	assert.Empty(t, runner.Calls)
	count, err := functionRepo.CountBySample(s.Hash)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, model.StageUploaded, f.sample(t, s.Hash).Stage)

	// 样本可以重新提取
	gate, err := f.registry.BeginExtraction(s.Hash)
	require.NoError(t, err)
	assert.False(t, gate.AlreadyExtracted)

	require.NoError(t, p.Process(context.Background(), job(queue.KindExtract, s.Hash)))
	assert.Equal(t, model.StageExtracted, f.sample(t, s.Hash).Stage)
	assert.Len(t, runner.Calls, 1)
}

func TestProcessor_HeartbeatKeepsOrganiseFresh(t *testing.T) {
	f := newProcessorFixture(t)
	s := testutil.TestSample(t, f.db, f.user.ID, testutil.WithStage(model.StageOrganising))
	// 触发后在队列中等待了很久
	require.NoError(t, f.db.Model(&model.Sample{}).Where("hash = ?", s.Hash).
		UpdateColumn("updated_at", time.Now().Add(-3*time.Hour)).Error)

	p := f.processor(nil, nil, organiseFunc(func(ctx context.Context, hash string, progress agent.ProgressFunc) error {
		progress(agent.StepResearching, 1)
		recovered, err := f.registry.RecoverStale(2 * time.Hour)
		require.NoError(t, err)
		assert.Zero(t, recovered)
		return nil
	}))

	require.NoError(t, p.Process(context.Background(), job(queue.KindOrganise, s.Hash)))
	assert.Equal(t, model.StageOrganised, f.sample(t, s.Hash).Stage)
}

func TestProcessor_OrganiseStopsAfterRollback(t *testing.T) {
	f := newProcessorFixture(t)
	s := testutil.TestSample(t, f.db, f.user.ID, testutil.WithStage(model.StageOrganising))

	iterations := 0
	p := f.processor(nil, nil, organiseFunc(func(ctx context.Context, hash string, progress agent.ProgressFunc) error {
		for i := 1; i <= 5; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			iterations++
			progress(agent.StepResearching, i)
			if i == 2 {
				require.NoError(t, f.registry.Rollback(hash, model.StageOrganising, errors.New("stale")))
			}
		}
		return nil
	}))

	err := p.Process(context.Background(), job(queue.KindOrganise, s.Hash))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, iterations)
	assert.Equal(t, model.StageAnalysed, f.sample(t, s.Hash).Stage)
	assert.Equal(t, []string{
		"processing/researching", "processing/researching", "failed/",
	}, f.publisher.statuses())
}

func TestProcessor_UnknownKind(t *testing.T) {
	p := NewProcessor(nil, nil, nil, nil, nil, zap.NewNop())
	err := p.Process(context.Background(), job("reticulate", "abc"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestProcessor_NilPublisher(t *testing.T) {
	f := newProcessorFixture(t)
	s := testutil.TestSample(t, f.db, f.user.ID, testutil.WithStage(model.StageAnalysing))

	verdict := model.VerdictTrue
	p := NewProcessor(f.registry, nil, analyseFunc(func(ctx context.Context, hash string) (*service.AnalysisResult, error) {
		return &service.AnalysisResult{Report: "r", Malicious: &verdict}, nil
	}), nil, nil, zap.NewNop())

	require.NoError(t, p.Process(context.Background(), job(queue.KindAnalyse, s.Hash)))
	assert.Equal(t, model.StageAnalysed, f.sample(t, s.Hash).Stage)
}
