package app

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("KEY_ENCRYPTION_SECRET", strings.Repeat("k", 32))
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.ComplianceBatchSize)
	assert.Equal(t, 1, cfg.ComplianceMaxBatches)
	assert.Equal(t, 5*time.Minute, cfg.ComplianceRetryBackoff)
	assert.Equal(t, 10*time.Minute, cfg.ComplianceLease)
	assert.Equal(t, 30*time.Second, cfg.AuthorityTimeout)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsShortSecret(t *testing.T) {
	t.Setenv("KEY_ENCRYPTION_SECRET", "short")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRejectsZeroMaxBatches(t *testing.T) {
	t.Setenv("COMPLIANCE_MAX_BATCHES", "0")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestAuthorityConfigFallsBackToEndpoint(t *testing.T) {
	cfg := &Config{ZATCAEndpointURL: "https://authority.test/invoices", ZATCAReportURL: "https://authority.test/report"}
	ac := cfg.AuthorityConfig()
	assert.Equal(t, "https://authority.test/report", ac.ReportURL)
	assert.Equal(t, "https://authority.test/invoices", ac.ClearURL)

	cfg = &Config{ZATCAEndpointURL: "https://authority.test/invoices"}
	assert.Equal(t, "https://authority.test/invoices", cfg.AuthorityConfig().ReportURL)
}

func TestInTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	assert.True(t, InTestMode())
	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	assert.False(t, InTestMode())
}
