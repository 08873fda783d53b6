package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// IntegrationTestSuite provides a context and a scratch directory for
// tests that read and write table files.
type IntegrationTestSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	tempDir   string
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *IntegrationTestSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.startTime = time.Now()

	tempDir, err := os.MkdirTemp("", "alchemsub-test-*")
	require.NoError(s.T(), err)
	s.tempDir = tempDir
}

// TearDownSuite runs after all tests in the suite
func (s *IntegrationTestSuite) TearDownSuite() {
	s.cancel()
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}
	s.T().Logf("suite completed in %v", time.Since(s.startTime))
}

// Context returns the suite context
func (s *IntegrationTestSuite) Context() context.Context {
	return s.ctx
}

// Path joins name onto the scratch directory.
func (s *IntegrationTestSuite) Path(name string) string {
	return filepath.Join(s.tempDir, name)
}

// IntegrationTest skips the calling test in short mode.
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}
