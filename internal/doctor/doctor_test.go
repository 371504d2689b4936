package doctor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCheck struct {
	mock.Mock
}

func (m *mockCheck) Name() string     { return m.Called().String(0) }
func (m *mockCheck) Category() string { return m.Called().String(0) }

func (m *mockCheck) Run(ctx context.Context) *CheckResult {
	return m.Called(ctx).Get(0).(*CheckResult)
}

type mockFixer struct {
	mockCheck
}

func (m *mockFixer) CanFix() bool { return m.Called().Bool(0) }

func (m *mockFixer) Fix() []FixResult {
	return m.Called().Get(0).([]FixResult)
}

func newMockCheck(t *testing.T, status Severity) *mockCheck {
	t.Helper()
	m := &mockCheck{}
	m.On("Run", mock.Anything).Return(&CheckResult{Name: status.String(), Status: status}).Once()
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func TestRunner_Run(t *testing.T) {
	r := NewRunner(
		newMockCheck(t, SeverityPass),
		newMockCheck(t, SeverityInfo),
		newMockCheck(t, SeverityWarning),
		newMockCheck(t, SeverityError),
		newMockCheck(t, SeverityPass),
	)
	stamp := time.Date(2024, 5, 1, 3, 0, 0, 0, time.FixedZone("CEST", 7200))
	r.now = func() time.Time { return stamp }

	report := r.Run(t.Context())

	require.Len(t, report.Results, 5)
	assert.Equal(t, "pass", report.Results[0].Name)
	assert.Equal(t, "error", report.Results[3].Name)
	assert.Equal(t, Summary{Passed: 2, Info: 1, Warnings: 1, Errors: 1}, report.Summary)
	assert.True(t, report.HasErrors())
	assert.True(t, report.HasWarnings())
	assert.Equal(t, time.UTC, report.Timestamp.Location())
}

func TestRunner_RunEmpty(t *testing.T) {
	report := NewRunner().Run(t.Context())
	assert.Empty(t, report.Results)
	assert.False(t, report.HasErrors())
	assert.False(t, report.HasWarnings())
}

func TestRunner_RunStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	unused := &mockCheck{}
	report := NewRunner(unused).Run(ctx)

	assert.Empty(t, report.Results)
	unused.AssertNotCalled(t, "Run", mock.Anything)
}

func TestRunner_Fix(t *testing.T) {
	fixable := &mockFixer{}
	fixable.On("CanFix").Return(true)
	fixable.On("Fix").Return([]FixResult{{Path: "/x", Fixed: true}})

	clean := &mockFixer{}
	clean.On("CanFix").Return(false)

	plain := &mockCheck{}

	r := NewRunner(fixable, clean, plain)
	got := r.Fix()

	assert.Equal(t, []FixResult{{Path: "/x", Fixed: true}}, got)
	fixable.AssertExpectations(t)
	clean.AssertNotCalled(t, "Fix")
}

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		s    Severity
		want string
	}{
		{SeverityPass, "pass"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{Severity(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.s.String())
		text, err := tt.s.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(text))
	}
}
