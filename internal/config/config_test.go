package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_DUR", "5s")
	t.Setenv("TEST_FLOAT", "0.5")

	n, err := envInt("TEST_INT", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	n, err = envInt("TEST_INT_MISSING", 99)
	require.NoError(t, err)
	assert.Equal(t, 99, n)

	b, err := envBool("TEST_BOOL", false)
	require.NoError(t, err)
	assert.True(t, b)

	d, err := envDuration("TEST_DUR", 0)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	f, err := envFloat("TEST_FLOAT", 0)
	require.NoError(t, err)
	assert.Equal(t, 0.5, f)
}

func TestEnvHelperErrors(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	t.Setenv("TEST_BOOL_BAD", "maybe")
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	t.Setenv("TEST_FLOAT_BAD", "fast")

	_, err := envInt("TEST_INT_BAD", 0)
	assert.EqualError(t, err, `TEST_INT_BAD="abc" is not a valid integer`)
	_, err = envBool("TEST_BOOL_BAD", false)
	assert.EqualError(t, err, `TEST_BOOL_BAD="maybe" is not a valid boolean`)
	_, err = envDuration("TEST_DUR_BAD", 0)
	assert.EqualError(t, err, `TEST_DUR_BAD="five-seconds" is not a valid duration`)
	_, err = envFloat("TEST_FLOAT_BAD", 0)
	assert.EqualError(t, err, `TEST_FLOAT_BAD="fast" is not a valid number`)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "data/scripts", cfg.ScriptsDir)
	assert.Equal(t, 30*time.Second, cfg.CodeTimeout)
	assert.True(t, cfg.EnactStepRetry)
	assert.Equal(t, "mem://", cfg.DocumentsURL)
	assert.Empty(t, cfg.ArtifactsURL)
	assert.Equal(t, int64(1<<20), cfg.MaxRequestBodyBytes)
}

func TestLoadScriptsDirFollowsDataDir(t *testing.T) {
	t.Setenv("NAGARE_DATA_DIR", "/srv/nagare")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/srv/nagare/scripts", cfg.ScriptsDir)
}

func TestLoadReportsEveryInvalidVar(t *testing.T) {
	t.Setenv("NAGARE_PORT", "abc")
	t.Setenv("NAGARE_SMTP_PORT", "xyz")
	t.Setenv("NAGARE_ENACT_STEP_RETRY", "sometimes")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, `NAGARE_PORT="abc"`)
	assert.ErrorContains(t, err, `NAGARE_SMTP_PORT="xyz"`)
	assert.ErrorContains(t, err, "NAGARE_ENACT_STEP_RETRY")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port: 8080, DatabaseURL: "postgres://x", MaxRequestBodyBytes: 1,
			CodeTimeout: time.Second, ExecuteRate: 1, ExecuteBurst: 1,
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"no database":    func(c *Config) { c.DatabaseURL = "" },
		"port":           func(c *Config) { c.Port = 70000 },
		"body limit":     func(c *Config) { c.MaxRequestBodyBytes = 0 },
		"half a keypair": func(c *Config) { c.JWTPrivateKeyPath = "/k.pem" },
		"code timeout":   func(c *Config) { c.CodeTimeout = 0 },
		"negative rate":  func(c *Config) { c.ExecuteRate = -1 },
		"zero burst":     func(c *Config) { c.ExecuteBurst = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	c := valid()
	c.ExecuteRate, c.ExecuteBurst = 0, 0
	assert.NoError(t, c.Validate(), "burst is irrelevant when limiting is off")
}
