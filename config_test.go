package iamauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oracle-nosql/go-iamauth/internal/profile"
)

func TestEngineConfig_Validate_RejectsZeroCredentialSources(t *testing.T) {
	cfg := EngineConfig{}
	_, err := cfg.Validate()
	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
}

func TestEngineConfig_Validate_RejectsMultipleCredentialSources(t *testing.T) {
	cfg := EngineConfig{
		Credentials:          &profile.UserCredentials{},
		UseResourcePrincipal: true,
	}
	_, err := cfg.Validate()
	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
}

func TestEngineConfig_Validate_RejectsCacheDurationOverMax(t *testing.T) {
	cfg := EngineConfig{
		UseResourcePrincipal: true,
		CacheDuration:        10 * time.Minute,
	}
	_, err := cfg.Validate()
	require.Error(t, err)
}

func TestEngineConfig_ApplyDefaults_FillsZeroValues(t *testing.T) {
	cfg := EngineConfig{}
	require.NoError(t, cfg.applyDefaults())
	assert.Equal(t, defaultCacheDuration, cfg.CacheDuration)
	assert.Equal(t, defaultRefreshAhead, *cfg.RefreshAhead)
	assert.Equal(t, defaultProfileExpireBefore, cfg.ProfileExpireBefore)
	assert.Equal(t, defaultRequestTimeout, cfg.RequestTimeout)
}

func TestEngineConfig_ApplyDefaults_ExplicitZeroRefreshAheadDisablesBackgroundRefresh(t *testing.T) {
	zero := time.Duration(0)
	cfg := EngineConfig{RefreshAhead: &zero}
	require.NoError(t, cfg.applyDefaults())
	assert.True(t, cfg.backgroundRefreshDisabled())
}

func TestEngineConfig_ApplyDefaults_RejectsNegativeRefreshAhead(t *testing.T) {
	neg := -time.Second
	cfg := EngineConfig{RefreshAhead: &neg}
	require.Error(t, cfg.applyDefaults())
}

func TestEngineConfig_ResolveDelegationToken_RejectsMultipleSources(t *testing.T) {
	cfg := EngineConfig{
		DelegationToken:         "literal",
		DelegationTokenProvider: func() (string, error) { return "from-provider", nil },
	}
	_, err := cfg.resolveDelegationToken()
	require.Error(t, err)
}

func TestEngineConfig_ResolveDelegationToken_UsesLiteral(t *testing.T) {
	cfg := EngineConfig{DelegationToken: "literal-token"}
	tok, err := cfg.resolveDelegationToken()
	require.NoError(t, err)
	assert.Equal(t, "literal-token", tok)
}

func TestEngineConfig_ResolveDelegationToken_UsesProvider(t *testing.T) {
	cfg := EngineConfig{DelegationTokenProvider: func() (string, error) { return "provided-token", nil }}
	tok, err := cfg.resolveDelegationToken()
	require.NoError(t, err)
	assert.Equal(t, "provided-token", tok)
}
