package validation_test

import (
	"encoding/json"
	"testing"

	"github.com/logweave/parserhost/application/validation"
	domainerrors "github.com/logweave/parserhost/domain/errors"
	"github.com/logweave/parserhost/host/registry"
	"github.com/logweave/parserhost/wireformat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireConfigError(t *testing.T, err error, kind domainerrors.ConfigErrorKind) *domainerrors.ConfigError {
	t.Helper()
	var cfgErr *domainerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, kind, cfgErr.Kind)
	return cfgErr
}

func TestEncodeOptions(t *testing.T) {
	opts, err := validation.EncodeOptions(validation.FormatDLT, 1, validation.DLTOptions{
		LogLevel:              "warn",
		TimezoneOffsetMinutes: 60,
	})
	require.NoError(t, err)

	header, payload, err := wireformat.DecodeOptions(opts)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), header.SchemaVersion)
	assert.JSONEq(t, `{"log_level":"warn","timezone_offset_minutes":60}`, string(payload))
}

func TestEncodeOptions_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		v       any
		version uint32
		field   string
		kind    domainerrors.ConfigErrorKind
	}{
		{name: "bad level", v: validation.DLTOptions{LogLevel: "loud"}, version: 1, field: "log_level", kind: domainerrors.ConfigUnsupportedOption},
		{name: "offset too far east", v: validation.DLTOptions{TimezoneOffsetMinutes: 900}, version: 1, field: "timezone_offset_minutes", kind: domainerrors.ConfigUnsupportedOption},
		{name: "empty fibex path", v: validation.DLTOptions{FibexFiles: []string{""}}, version: 1, field: "fibex_files[0]", kind: domainerrors.ConfigUnsupportedOption},
		{name: "port zero", v: validation.PCAPOptions{Ports: []uint16{80, 0}}, version: 1, field: "ports[1]", kind: domainerrors.ConfigUnsupportedOption},
		{name: "reserved version", v: validation.PCAPOptions{}, version: 0, kind: domainerrors.ConfigMalformedOptions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validation.EncodeOptions("any", tt.version, tt.v)
			cfgErr := requireConfigError(t, err, tt.kind)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestValidateOptions(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		payload string
		field   string
		kind    domainerrors.ConfigErrorKind
		ok      bool
	}{
		{name: "valid dlt", format: validation.FormatDLT, payload: `{"log_level":"debug","mtin":{"APP1":"log"}}`, ok: true},
		{name: "empty payload", format: validation.FormatDLT, payload: "", ok: true},
		{name: "untyped format", format: "syslog", payload: `{"anything":true}`, ok: true},
		{name: "unknown field", format: validation.FormatDLT, payload: `{"colour":"red"}`, field: "colour", kind: domainerrors.ConfigUnsupportedOption},
		{name: "wrong type", format: validation.FormatPCAP, payload: `{"ports":"80"}`, field: "ports", kind: domainerrors.ConfigUnsupportedOption},
		{name: "not json", format: validation.FormatPCAP, payload: `{ports`, kind: domainerrors.ConfigMalformedOptions},
		{name: "bad link type", format: validation.FormatPCAP, payload: `{"link_type":"token_ring"}`, field: "link_type", kind: domainerrors.ConfigUnsupportedOption},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validation.ValidateOptions(tt.format, []byte(tt.payload))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			cfgErr := requireConfigError(t, err, tt.kind)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestAuxiliaryFiles(t *testing.T) {
	payload, err := json.Marshal(validation.DLTOptions{FibexFiles: []string{"/models/ecu1.xml"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"/models/ecu1.xml"}, validation.AuxiliaryFiles(validation.FormatDLT, payload))
	assert.Nil(t, validation.AuxiliaryFiles(validation.FormatPCAP, payload))
	assert.Nil(t, validation.AuxiliaryFiles(validation.FormatDLT, []byte("{")))
}

func newSchemaRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.NewRegistry()
	for id, model := range validation.Models() {
		require.NoError(t, reg.RegisterOptionsSchema(id, model))
	}
	return reg
}

func TestOptionsValidator(t *testing.T) {
	v := validation.NewOptionsValidator(newSchemaRegistry(t))

	t.Run("accepts valid options", func(t *testing.T) {
		opts := wireformat.EncodeOptions(1, []byte(`{"log_level":"warn","with_storage_header":true}`))
		assert.NoError(t, v.Validate(validation.FormatDLT, opts))
	})

	t.Run("accepts empty payload", func(t *testing.T) {
		assert.NoError(t, v.Validate(validation.FormatDLT, wireformat.EncodeOptions(1, nil)))
	})

	t.Run("short blob is malformed", func(t *testing.T) {
		opts := wireformat.EncodeOptions(1, nil)
		opts.Raw = opts.Raw[:5]
		requireConfigError(t, v.Validate(validation.FormatDLT, opts), domainerrors.ConfigMalformedOptions)
	})

	t.Run("schema rejects enum value", func(t *testing.T) {
		opts := wireformat.EncodeOptions(1, []byte(`{"log_level":"loud"}`))
		cfgErr := requireConfigError(t, v.Validate(validation.FormatDLT, opts), domainerrors.ConfigUnsupportedOption)
		assert.Equal(t, "log_level", cfgErr.Field)
	})

	t.Run("schema rejects out of range offset", func(t *testing.T) {
		opts := wireformat.EncodeOptions(1, []byte(`{"timezone_offset_minutes":-800}`))
		cfgErr := requireConfigError(t, v.Validate(validation.FormatDLT, opts), domainerrors.ConfigUnsupportedOption)
		assert.Equal(t, "timezone_offset_minutes", cfgErr.Field)
	})

	t.Run("invalid json is malformed", func(t *testing.T) {
		opts := wireformat.EncodeOptions(1, []byte(`{"log_level":`))
		requireConfigError(t, v.Validate(validation.FormatDLT, opts), domainerrors.ConfigMalformedOptions)
	})

	t.Run("format without schema or model", func(t *testing.T) {
		opts := wireformat.EncodeOptions(1, []byte(`{"free":"form"}`))
		assert.NoError(t, v.Validate("syslog", opts))
	})
}

func TestOptionsValidator_NilRegistry(t *testing.T) {
	v := validation.NewOptionsValidator(nil)
	opts := wireformat.EncodeOptions(1, []byte(`{"log_level":"loud"}`))
	cfgErr := requireConfigError(t, v.Validate(validation.FormatDLT, opts), domainerrors.ConfigUnsupportedOption)
	assert.Equal(t, "log_level", cfgErr.Field)
}
