// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/cartprobe/internal/driver"
	"github.com/xkilldash9x/cartprobe/internal/reporting"
	"github.com/xkilldash9x/cartprobe/internal/store"
)

// -- Driver Mocks --

// MockDriver mocks driver.Driver.
type MockDriver struct {
	mock.Mock
}

func (m *MockDriver) Find(ctx context.Context, q driver.Query) ([]driver.Element, error) {
	args := m.Called(ctx, q)
	var els []driver.Element
	if v := args.Get(0); v != nil {
		els = v.([]driver.Element)
	}
	return els, args.Error(1)
}

func (m *MockDriver) ExecuteScript(ctx context.Context, source string, scriptArgs ...any) (json.RawMessage, error) {
	args := m.Called(ctx, source, scriptArgs)
	var raw json.RawMessage
	if v := args.Get(0); v != nil {
		raw = v.(json.RawMessage)
	}
	return raw, args.Error(1)
}

func (m *MockDriver) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) Capture(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	var b []byte
	if v := args.Get(0); v != nil {
		b = v.([]byte)
	}
	return b, args.Error(1)
}

// MockElement mocks driver.Element.
type MockElement struct {
	mock.Mock
}

func (m *MockElement) IsDisplayed(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockElement) IsEnabled(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockElement) IsObscured(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockElement) Text(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockElement) Click(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockElement) Clear(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockElement) SendKeys(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func (m *MockElement) FindAll(ctx context.Context, q driver.Query) ([]driver.Element, error) {
	args := m.Called(ctx, q)
	var els []driver.Element
	if v := args.Get(0); v != nil {
		els = v.([]driver.Element)
	}
	return els, args.Error(1)
}

// -- Reporting Mocks --

// MockReporter mocks reporting.Reporter.
type MockReporter struct {
	mock.Mock
}

func (m *MockReporter) Write(run *reporting.Run) error {
	return m.Called(run).Error(0)
}

func (m *MockReporter) Close() error {
	return m.Called().Error(0)
}

// MockRunStore mocks the persistence side of an audit.
type MockRunStore struct {
	mock.Mock
}

func (m *MockRunStore) SaveRun(ctx context.Context, run *reporting.Run) error {
	return m.Called(ctx, run).Error(0)
}

func (m *MockRunStore) RecentRuns(ctx context.Context, name string, limit int) ([]store.RunSummary, error) {
	args := m.Called(ctx, name, limit)
	runs, _ := args.Get(0).([]store.RunSummary)
	return runs, args.Error(1)
}

var (
	_ driver.Driver      = (*MockDriver)(nil)
	_ driver.Element     = (*MockElement)(nil)
	_ reporting.Reporter = (*MockReporter)(nil)
)
