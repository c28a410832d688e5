package testutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	domainerrors "github.com/logweave/parserhost/domain/errors"
)

// RequireLoadError asserts err is a LoadError of the given kind.
func RequireLoadError(t testing.TB, err error, kind domainerrors.LoadErrorKind) *domainerrors.LoadError {
	t.Helper()
	var loadErr *domainerrors.LoadError
	require.True(t, errors.As(err, &loadErr), "expected LoadError, got %v", err)
	require.Equal(t, kind, loadErr.Kind, "load error kind: %v", err)
	return loadErr
}

// RequireConfigError asserts err is a ConfigError of the given kind.
func RequireConfigError(t testing.TB, err error, kind domainerrors.ConfigErrorKind) *domainerrors.ConfigError {
	t.Helper()
	var cfgErr *domainerrors.ConfigError
	require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
	require.Equal(t, kind, cfgErr.Kind, "config error kind: %v", err)
	return cfgErr
}

// RequireBridgeError asserts err is a BridgeError of the given kind.
func RequireBridgeError(t testing.TB, err error, kind domainerrors.BridgeErrorKind) *domainerrors.BridgeError {
	t.Helper()
	var bridgeErr *domainerrors.BridgeError
	require.True(t, errors.As(err, &bridgeErr), "expected BridgeError, got %v", err)
	require.Equal(t, kind, bridgeErr.Kind, "bridge error kind: %v", err)
	return bridgeErr
}

// RequireTrap asserts err is a GuestTrapError.
func RequireTrap(t testing.TB, err error) *domainerrors.GuestTrapError {
	t.Helper()
	var trapErr *domainerrors.GuestTrapError
	require.True(t, errors.As(err, &trapErr), "expected GuestTrapError, got %v", err)
	return trapErr
}

// RequireTimeout asserts err is a TimeoutError.
func RequireTimeout(t testing.TB, err error) *domainerrors.TimeoutError {
	t.Helper()
	var timeoutErr *domainerrors.TimeoutError
	require.True(t, errors.As(err, &timeoutErr), "expected TimeoutError, got %v", err)
	return timeoutErr
}
