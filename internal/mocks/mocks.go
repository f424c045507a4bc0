// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/jsbox/api/schemas"
	"github.com/xkilldash9x/jsbox/internal/config"
	"github.com/xkilldash9x/jsbox/internal/results"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

func (m *MockConfig) Logger() config.LoggerConfig {
	return m.Called().Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Sandbox() config.SandboxConfig {
	return m.Called().Get(0).(config.SandboxConfig)
}

func (m *MockConfig) Collector() config.CollectorConfig {
	return m.Called().Get(0).(config.CollectorConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	return m.Called().Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	return m.Called().Get(0).(config.EngineConfig)
}

func (m *MockConfig) Cache() config.CacheConfig {
	return m.Called().Get(0).(config.CacheConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	return m.Called().Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	return m.Called().Get(0).(config.MetricsConfig)
}

func (m *MockConfig) Scan() config.ScanConfig {
	return m.Called().Get(0).(config.ScanConfig)
}

func (m *MockConfig) SetScanConfig(sc config.ScanConfig)          { m.Called(sc) }
func (m *MockConfig) SetEngineWorkerConcurrency(w int)            { m.Called(w) }
func (m *MockConfig) SetSandboxExecutionTimeout(d time.Duration) { m.Called(d) }
func (m *MockConfig) SetCacheEnabled(b bool)                      { m.Called(b) }

// -- Worker Mock --

// MockWorker mocks the engine's per-task worker.
type MockWorker struct {
	mock.Mock
}

func (m *MockWorker) ProcessTask(ctx context.Context, task schemas.Task) (*results.Report, error) {
	args := m.Called(ctx, task)
	if fn, ok := args.Get(0).(func(context.Context, schemas.Task) *results.Report); ok {
		return fn(ctx, task), args.Error(1)
	}
	report, _ := args.Get(0).(*results.Report)
	return report, args.Error(1)
}

// -- Store Mock --

// MockStore mocks the report sink.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) PersistData(ctx context.Context, data *schemas.ResultEnvelope) error {
	return m.Called(ctx, data).Error(0)
}

func (m *MockStore) GetDetectionsByScanID(ctx context.Context, scanID string) ([]schemas.Detection, error) {
	args := m.Called(ctx, scanID)
	ds, _ := args.Get(0).([]schemas.Detection)
	return ds, args.Error(1)
}

// -- Cache Mock --

// MockCache mocks cache.Store.
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string) (*results.Report, error) {
	args := m.Called(ctx, key)
	report, _ := args.Get(0).(*results.Report)
	return report, args.Error(1)
}

func (m *MockCache) Put(ctx context.Context, key string, report *results.Report) error {
	return m.Called(ctx, key, report).Error(0)
}

func (m *MockCache) Close() error { return m.Called().Error(0) }
