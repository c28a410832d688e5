// Package validation checks typed parse options on the host side before they
// reach a guest, and encodes them into the options blob.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/logweave/parserhost/domain/entities"
	domainerrors "github.com/logweave/parserhost/domain/errors"
	"github.com/logweave/parserhost/wireformat"
)

// Built-in format identifiers with typed options.
const (
	FormatDLT  = "dlt"
	FormatPCAP = "pcap"
)

// DLTOptions configures the DLT parser. Entries with a severity numerically
// greater than LogLevel are dropped by the guest.
type DLTOptions struct {
	MTIN                  map[string]string `json:"mtin,omitempty" jsonschema:"description=Message type info overrides keyed by application id"`
	LogLevel              string            `json:"log_level,omitempty" validate:"omitempty,oneof=fatal error warn info debug verbose" jsonschema:"enum=fatal,enum=error,enum=warn,enum=info,enum=debug,enum=verbose"`
	FibexFiles            []string          `json:"fibex_files,omitempty" validate:"dive,required" jsonschema:"description=FIBEX model files the plugin may read"`
	TimezoneOffsetMinutes int               `json:"timezone_offset_minutes,omitempty" validate:"min=-720,max=840" jsonschema:"minimum=-720,maximum=840"`
	WithStorageHeader     bool              `json:"with_storage_header,omitempty"`
}

// PCAPOptions configures the PCAP parser.
type PCAPOptions struct {
	LinkType string   `json:"link_type,omitempty" validate:"omitempty,oneof=ethernet raw linux_sll" jsonschema:"enum=ethernet,enum=raw,enum=linux_sll"`
	Ports    []uint16 `json:"ports,omitempty" validate:"dive,min=1"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Models returns a fresh zero value of every typed options struct, keyed by
// format identifier. Registries use it to publish options schemas.
func Models() map[string]any {
	return map[string]any{
		FormatDLT:  DLTOptions{},
		FormatPCAP: PCAPOptions{},
	}
}

func newModel(formatID string) (any, bool) {
	switch formatID {
	case FormatDLT:
		return &DLTOptions{}, true
	case FormatPCAP:
		return &PCAPOptions{}, true
	default:
		return nil, false
	}
}

// EncodeOptions validates v and wraps its JSON encoding into an options blob
// with the given schema version.
func EncodeOptions(formatID string, schemaVersion uint32, v any) (entities.ParseOptions, error) {
	if schemaVersion == 0 {
		return entities.ParseOptions{}, &domainerrors.ConfigError{
			Kind:   domainerrors.ConfigMalformedOptions,
			Reason: "schema version 0 is reserved",
		}
	}
	if err := validateStruct(v); err != nil {
		return entities.ParseOptions{}, err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return entities.ParseOptions{}, &domainerrors.ConfigError{
			Kind:   domainerrors.ConfigMalformedOptions,
			Reason: fmt.Sprintf("encode %s options", formatID),
			Err:    err,
		}
	}
	return wireformat.EncodeOptions(schemaVersion, payload), nil
}

// ValidateOptions decodes a JSON options payload into the typed options of
// formatID and validates it. Formats without typed options accept any payload.
// An empty payload means defaults.
func ValidateOptions(formatID string, payload []byte) error {
	_, err := decodeModel(formatID, payload)
	return err
}

// AuxiliaryFiles returns the files named by the options payload that the
// guest needs to read, such as DLT FIBEX models.
func AuxiliaryFiles(formatID string, payload []byte) []string {
	if formatID != FormatDLT || len(payload) == 0 {
		return nil
	}
	var opts DLTOptions
	if err := json.Unmarshal(payload, &opts); err != nil {
		return nil
	}
	return opts.FibexFiles
}

func decodeModel(formatID string, payload []byte) (any, error) {
	model, ok := newModel(formatID)
	if !ok || len(bytes.TrimSpace(payload)) == 0 {
		return model, nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(model); err != nil {
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &typeErr):
			return nil, &domainerrors.ConfigError{
				Kind:   domainerrors.ConfigUnsupportedOption,
				Field:  typeErr.Field,
				Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
			}
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
			return nil, &domainerrors.ConfigError{
				Kind:   domainerrors.ConfigUnsupportedOption,
				Field:  field,
				Reason: "unknown option",
			}
		default:
			return nil, &domainerrors.ConfigError{Kind: domainerrors.ConfigMalformedOptions, Err: err}
		}
	}
	if err := validateStruct(model); err != nil {
		return nil, err
	}
	return model, nil
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &domainerrors.ConfigError{
			Kind:   domainerrors.ConfigUnsupportedOption,
			Field:  fe.Field(),
			Reason: fmt.Sprintf("failed %q constraint", fe.Tag()),
		}
	}
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return &domainerrors.ConfigError{Kind: domainerrors.ConfigMalformedOptions, Reason: "options must be a struct", Err: err}
	}
	return &domainerrors.ConfigError{Kind: domainerrors.ConfigMalformedOptions, Err: err}
}
