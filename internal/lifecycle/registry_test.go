package lifecycle

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/statdig_server/internal/model"
	"github.com/qs3c/statdig_server/internal/pkg/apperr"
	"github.com/qs3c/statdig_server/internal/repository"
	"github.com/qs3c/statdig_server/internal/testutil"
)

func setupRegistry(t *testing.T) (*Registry, *gorm.DB, *model.User) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	registry := NewRegistry(
		repository.NewSampleRepository(db),
		repository.NewFunctionRepository(db),
		repository.NewDetailRepository(db),
		zap.NewNop(),
	)
	return registry, db, testutil.TestUser(t, db)
}

func stageOf(t *testing.T, db *gorm.DB, hash string) *model.Sample {
	t.Helper()
	var s model.Sample
	require.NoError(t, db.Where("hash = ?", hash).First(&s).Error)
	return &s
}

func TestRegistry_BeginExtraction(t *testing.T) {
	registry, db, user := setupRegistry(t)

	t.Run("sample not found", func(t *testing.T) {
		_, err := registry.BeginExtraction("0123456789abcdef0123456789abcdef")
		assert.ErrorIs(t, err, ErrSampleNotFound)
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})

	t.Run("uploaded moves to extracting", func(t *testing.T) {
		sample := testutil.TestSample(t, db, user.ID)

		gate, err := registry.BeginExtraction(sample.Hash)
		require.NoError(t, err)
		assert.False(t, gate.AlreadyExtracted)
		assert.Equal(t, model.StageExtracting, stageOf(t, db, sample.Hash).Stage)
	})

	t.Run("already extracted short-circuits", func(t *testing.T) {
		sample := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageAnalysed))
		testutil.TestFunctions(t, db, sample.Hash, map[string]string{"main": "", "entry": ""})

		gate, err := registry.BeginExtraction(sample.Hash)
		require.NoError(t, err)
		assert.True(t, gate.AlreadyExtracted)
		assert.Equal(t, int64(2), gate.FunctionCount)
		assert.Equal(t, model.StageAnalysed, stageOf(t, db, sample.Hash).Stage)
	})

	t.Run("second trigger conflicts", func(t *testing.T) {
		sample := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageExtracting))

		_, err := registry.BeginExtraction(sample.Hash)
		assert.ErrorIs(t, err, repository.ErrStageConflict)
	})

	t.Run("uploaded with functions is repaired", func(t *testing.T) {
		sample := testutil.TestSample(t, db, user.ID)
		testutil.TestFunctions(t, db, sample.Hash, map[string]string{"main": ""})
		require.NoError(t, db.Model(&model.Sample{}).Where("hash = ?", sample.Hash).
			Update("error_message", "internal: job did not finish within 2h0m0s").Error)

		gate, err := registry.BeginExtraction(sample.Hash)
		require.NoError(t, err)
		assert.True(t, gate.AlreadyExtracted)
		got := stageOf(t, db, sample.Hash)
		assert.Equal(t, model.StageExtracted, got.Stage)
		assert.Empty(t, got.ErrorMessage)

		// 修复后可以继续分析
		_, err = registry.BeginAnalysis(sample.Hash)
		require.NoError(t, err)
		assert.Equal(t, model.StageAnalysing, stageOf(t, db, sample.Hash).Stage)
	})
}

func TestRegistry_Heartbeat(t *testing.T) {
	registry, db, user := setupRegistry(t)
	sample := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageOrganising))
	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, db.Model(&model.Sample{}).Where("hash = ?", sample.Hash).
		UpdateColumn("updated_at", old).Error)

	require.NoError(t, registry.Heartbeat(sample.Hash, model.StageOrganising))
	assert.True(t, stageOf(t, db, sample.Hash).UpdatedAt.After(old.Add(time.Hour)))

	recovered, err := registry.RecoverStale(2 * time.Hour)
	require.NoError(t, err)
	assert.Zero(t, recovered)

	assert.ErrorIs(t, registry.Heartbeat(sample.Hash, model.StageExtracting), repository.ErrStageConflict)
	assert.ErrorIs(t, registry.Heartbeat(sample.Hash, model.StageAnalysed), ErrNotTransient)
}

func TestRegistry_BeginExtraction_Concurrent(t *testing.T) {
	registry, db, user := setupRegistry(t)
	sample := testutil.TestSample(t, db, user.ID)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := registry.BeginExtraction(sample.Hash)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, repository.ErrStageConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 7, conflicts)
}

func TestRegistry_BeginAnalysis(t *testing.T) {
	registry, db, user := setupRegistry(t)

	t.Run("no functions", func(t *testing.T) {
		sample := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageExtracted))

		_, err := registry.BeginAnalysis(sample.Hash)
		assert.ErrorIs(t, err, ErrNoFunctions)
		assert.Equal(t, apperr.KindPrecondition, apperr.KindOf(err))
	})

	t.Run("extracted moves to analysing", func(t *testing.T) {
		sample := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageExtracted))
		testutil.TestFunctions(t, db, sample.Hash, map[string]string{"main": ""})

		gate, err := registry.BeginAnalysis(sample.Hash)
		require.NoError(t, err)
		assert.False(t, gate.AlreadyAnalysed)
		assert.Equal(t, model.StageAnalysing, stageOf(t, db, sample.Hash).Stage)
	})

	t.Run("cached report", func(t *testing.T) {
		sample := testutil.TestSample(t, db, user.ID,
			testutil.WithStage(model.StageOrganised),
			testutil.WithReport("# Report"))
		require.NoError(t, db.Model(&model.Sample{}).Where("hash = ?", sample.Hash).
			Update("malicious", model.VerdictTrue).Error)

		gate, err := registry.BeginAnalysis(sample.Hash)
		require.NoError(t, err)
		assert.True(t, gate.AlreadyAnalysed)
		assert.Equal(t, "# Report", gate.Report)
		require.NotNil(t, gate.Malicious)
		assert.Equal(t, model.VerdictTrue, *gate.Malicious)
		assert.Equal(t, model.StageOrganised, stageOf(t, db, sample.Hash).Stage)
	})

	t.Run("analysed with empty report re-runs", func(t *testing.T) {
		sample := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageAnalysed))
		testutil.TestFunctions(t, db, sample.Hash, map[string]string{"main": ""})

		gate, err := registry.BeginAnalysis(sample.Hash)
		require.NoError(t, err)
		assert.False(t, gate.AlreadyAnalysed)
		assert.Equal(t, model.StageAnalysing, stageOf(t, db, sample.Hash).Stage)
	})

	t.Run("in-flight analysis conflicts", func(t *testing.T) {
		sample := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageAnalysing))
		testutil.TestFunctions(t, db, sample.Hash, map[string]string{"main": ""})

		_, err := registry.BeginAnalysis(sample.Hash)
		assert.ErrorIs(t, err, repository.ErrStageConflict)
	})
}

func TestRegistry_BeginOrganising(t *testing.T) {
	registry, db, user := setupRegistry(t)

	tests := []struct {
		name      string
		stage     model.Stage
		wantErr   error
		wantStage model.Stage
		already   bool
	}{
		{"not analysed", model.StageExtracted, ErrNotAnalysed, model.StageExtracted, false},
		{"already organising", model.StageOrganising, ErrAlreadyOrganising, model.StageOrganising, false},
		{"already organised", model.StageOrganised, nil, model.StageOrganised, true},
		{"analysed", model.StageAnalysed, nil, model.StageOrganising, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample := testutil.TestSample(t, db, user.ID, testutil.WithStage(tt.stage))

			gate, err := registry.BeginOrganising(sample.Hash)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.already, gate.AlreadyOrganised)
			}
			assert.Equal(t, tt.wantStage, stageOf(t, db, sample.Hash).Stage)
		})
	}
}

func TestRegistry_CompleteAndRollback(t *testing.T) {
	registry, db, user := setupRegistry(t)

	pairs := []struct {
		from, done, back model.Stage
	}{
		{model.StageExtracting, model.StageExtracted, model.StageUploaded},
		{model.StageAnalysing, model.StageAnalysed, model.StageExtracted},
		{model.StageOrganising, model.StageOrganised, model.StageAnalysed},
	}

	for _, p := range pairs {
		t.Run(p.from.String(), func(t *testing.T) {
			ok := testutil.TestSample(t, db, user.ID, testutil.WithStage(p.from))
			require.NoError(t, registry.Complete(ok.Hash, p.from))
			assert.Equal(t, p.done, stageOf(t, db, ok.Hash).Stage)

			failed := testutil.TestSample(t, db, user.ID, testutil.WithStage(p.from))
			cause := apperr.New(apperr.KindExternalTool, "container exited 1")
			require.NoError(t, registry.Rollback(failed.Hash, p.from, cause))

			got := stageOf(t, db, failed.Hash)
			assert.Equal(t, p.back, got.Stage)
			assert.Equal(t, "external_tool_error: container exited 1", got.ErrorMessage)
		})
	}

	t.Run("complete clears previous error", func(t *testing.T) {
		sample := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageAnalysing))
		require.NoError(t, db.Model(&model.Sample{}).Where("hash = ?", sample.Hash).
			Update("error_message", "provider_error: timeout").Error)

		require.NoError(t, registry.Complete(sample.Hash, model.StageAnalysing))
		assert.Empty(t, stageOf(t, db, sample.Hash).ErrorMessage)
	})

	t.Run("stable stage is rejected", func(t *testing.T) {
		sample := testutil.TestSample(t, db, user.ID)
		assert.ErrorIs(t, registry.Complete(sample.Hash, model.StageUploaded), ErrNotTransient)
		assert.ErrorIs(t, registry.Rollback(sample.Hash, model.StageAnalysed, nil), ErrNotTransient)
	})

	t.Run("stage moved underneath", func(t *testing.T) {
		sample := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageExtracted))
		assert.ErrorIs(t, registry.Complete(sample.Hash, model.StageExtracting), repository.ErrStageConflict)
	})
}

func TestRegistry_RecoverStale(t *testing.T) {
	registry, db, user := setupRegistry(t)

	stuck := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageOrganising))
	stable := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageAnalysed))

	// 时间阈值在未来，所有进行中样本都视为超时
	n, err := registry.RecoverStale(-time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, model.StageAnalysed, stageOf(t, db, stuck.Hash).Stage)
	assert.Contains(t, stageOf(t, db, stuck.Hash).ErrorMessage, "did not finish")
	assert.Equal(t, model.StageAnalysed, stageOf(t, db, stable.Hash).Stage)

	n, err = registry.RecoverStale(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRegistry_Reset(t *testing.T) {
	registry, db, user := setupRegistry(t)
	sample := testutil.TestSample(t, db, user.ID, testutil.WithStage(model.StageOrganising))

	require.NoError(t, registry.Reset(sample.Hash, model.StageAnalysed))
	assert.Equal(t, model.StageAnalysed, stageOf(t, db, sample.Hash).Stage)

	assert.ErrorIs(t, registry.Reset("missing", model.StageUploaded), ErrSampleNotFound)
}
