package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverity(t *testing.T) {
	tests := map[string]Severity{
		"fatal":   SeverityFatal,
		"ERROR":   SeverityError,
		"warn":    SeverityWarn,
		"warning": SeverityWarn,
		" info ":  SeverityInfo,
		"debug":   SeverityDebug,
		"verbose": SeverityVerbose,
	}
	for in, want := range tests {
		got, err := ParseSeverity(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSeverity("loud")
	assert.Error(t, err)
}

func TestSeverity_String(t *testing.T) {
	assert.Equal(t, "warn", SeverityWarn.String())
	assert.Equal(t, "", SeverityUnset.String())
	assert.True(t, SeverityVerbose.Valid())
	assert.False(t, Severity(9).Valid())
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities{CapabilityTimezone, CapabilityAuxiliaryFiles}

	assert.True(t, caps.Has(CapabilityTimezone))
	assert.False(t, caps.Has(CapabilityMTINMapping))
	assert.Equal(t, []string{"auxiliary-files", "timezone"}, caps.Strings())
}

func TestPluginDescriptor_Clone(t *testing.T) {
	d := PluginDescriptor{FormatID: "dlt", Capabilities: Capabilities{CapabilityTimezone}}
	c := d.Clone()
	c.Capabilities[0] = CapabilityMTINMapping

	assert.Equal(t, CapabilityTimezone, d.Capabilities[0])
	assert.Equal(t, "dlt (abi v0, )", d.String())
}

func TestHostConfig_EffectiveLimits(t *testing.T) {
	cfg := DefaultHostConfig()

	l := cfg.EffectiveLimits(Limits{})
	assert.Equal(t, cfg.MemoryLimitPages, l.MaxMemoryPages)
	assert.Equal(t, cfg.InvokeTimeout, l.InvokeTimeout)

	l = cfg.EffectiveLimits(Limits{MaxMemoryPages: 16, InvokeTimeout: time.Second})
	assert.Equal(t, uint32(16), l.MaxMemoryPages)
	assert.Equal(t, time.Second, l.InvokeTimeout)

	// a format cannot raise the host memory ceiling
	l = cfg.EffectiveLimits(Limits{MaxMemoryPages: cfg.MemoryLimitPages * 2})
	assert.Equal(t, cfg.MemoryLimitPages, l.MaxMemoryPages)
}

func TestSessionState(t *testing.T) {
	assert.Equal(t, "need_more_input", StateNeedMoreInput.String())
	assert.True(t, StateFaulted.Terminal())
	assert.True(t, StateClosed.Terminal())
	assert.False(t, StateExhausted.Terminal())
	assert.Equal(t, "s-7", SessionID(7).String())
	assert.Equal(t, "exhausted", NextExhausted.String())
}
