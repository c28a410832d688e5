package host

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/logweave/parserhost/domain/entities"
	domainerrors "github.com/logweave/parserhost/domain/errors"
	"github.com/logweave/parserhost/domain/ports"
	"github.com/logweave/parserhost/hostfuncs"
	"github.com/logweave/parserhost/internal/abi"
	wazeroadapter "github.com/logweave/parserhost/infrastructure/wazero"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

var (
	i32 = api.ValueTypeI32

	sigAllocParams   = []api.ValueType{i32}
	sigAllocResults  = []api.ValueType{i32}
	sigPtrLen        = []api.ValueType{i32, i32}
	sigStatusResults = []api.ValueType{i32}
)

type exportSig struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
}

var requiredExports = []exportSig{
	{abi.ExportAlloc, sigAllocParams, sigAllocResults},
	{abi.ExportDealloc, sigPtrLen, nil},
	{abi.ExportConfigure, sigPtrLen, sigStatusResults},
	{abi.ExportParse, sigPtrLen, sigStatusResults},
}

var reactorHostFunctions = []string{abi.HostReadFile, abi.HostWriteLog, abi.HostGetTime}

// Loader creates instances from plugin descriptors. It implements
// ports.ArtifactLoader.
type Loader struct {
	rt *Runtime
}

// NewLoader creates a Loader backed by rt.
func NewLoader(rt *Runtime) *Loader {
	return &Loader{rt: rt}
}

var _ ports.ArtifactLoader = (*Loader)(nil)

// Load implements ports.ArtifactLoader.
func (l *Loader) Load(ctx context.Context, desc entities.PluginDescriptor, env ports.SandboxEnv) (ports.Sandbox, error) {
	inst, err := l.LoadInstance(ctx, desc, env)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// LoadInstance reads, verifies and instantiates the artifact named by desc.
// Every failure is a LoadError, and nothing created along the way survives it.
func (l *Loader) LoadInstance(ctx context.Context, desc entities.PluginDescriptor, env ports.SandboxEnv) (*Instance, error) {
	fail := func(kind domainerrors.LoadErrorKind, err error) error {
		return &domainerrors.LoadError{Kind: kind, Format: desc.FormatID, Path: desc.BinaryPath, Err: err}
	}

	if !desc.Model.Valid() {
		return nil, fail(domainerrors.LoadCorruptArtifact, fmt.Errorf("unknown execution model %q", desc.Model))
	}

	binary, err := os.ReadFile(desc.BinaryPath)
	if err != nil {
		return nil, fail(domainerrors.LoadIO, err)
	}

	limits := l.rt.config.EffectiveLimits(desc.Limits)
	rt := wazero.NewRuntimeWithConfig(ctx, l.rt.runtimeConfig(limits))
	ok := false
	defer func() {
		if !ok {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	compiled, err := rt.CompileModule(ctx, binary)
	if err != nil {
		return nil, fail(domainerrors.LoadCorruptArtifact, err)
	}

	if kind, err := verifyHeader(compiled, desc.ABIVersion); err != nil {
		return nil, fail(kind, err)
	}
	if err := verifyExports(compiled, desc.Model); err != nil {
		return nil, fail(domainerrors.LoadCorruptArtifact, err)
	}
	if err := verifyImports(compiled, desc.Model); err != nil {
		return nil, fail(domainerrors.LoadCorruptArtifact, err)
	}

	sessionLogger := l.rt.logger.With("session_id", env.SessionID.String())
	logger := sessionLogger.With("format", desc.FormatID)
	inst := &Instance{
		desc:    desc,
		runtime: rt,
		budget:  limits.InvokeTimeout,
		logger:  logger,
	}

	modCfg := wazero.NewModuleConfig().WithName(desc.FormatID).WithStartFunctions()
	if desc.Model == entities.ModelReactor {
		guestLog, err := l.wireReactor(ctx, rt, env, sessionLogger)
		if err != nil {
			return nil, fail(domainerrors.LoadCorruptArtifact, err)
		}
		inst.guestLog = guestLog
		modCfg = modCfg.WithFSConfig(readOnlyMounts(env.ReadPaths))
	}

	mod, err := rt.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, fail(domainerrors.LoadCorruptArtifact, err)
	}
	inst.module = mod

	if desc.Model == entities.ModelReactor {
		if _, err := inst.Invoke(ctx, abi.ExportInitialize); err != nil {
			return nil, fail(domainerrors.LoadCorruptArtifact, fmt.Errorf("reactor initialization: %w", err))
		}
	}

	ok = true
	logger.DebugContext(ctx, "instance loaded",
		"model", desc.Model,
		"abi_version", desc.ABIVersion,
		"memory_limit_pages", limits.MaxMemoryPages,
		"invoke_timeout", limits.InvokeTimeout,
	)
	return inst, nil
}

// wireReactor instantiates WASI and the host module in rt. Host functions
// take the format from the call context, so logger carries only the session.
func (l *Loader) wireReactor(ctx context.Context, rt wazero.Runtime, env ports.SandboxEnv, logger *slog.Logger) (*wazeroadapter.GuestLogger, error) {
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}

	access, err := hostfuncs.NewFileAccess(env.ReadPaths)
	if err != nil {
		return nil, err
	}
	registry, err := hostfuncs.NewRegistry(
		hostfuncs.WithMiddleware(hostfuncs.PanicRecoveryMiddleware(), hostfuncs.LoggingMiddleware(logger)),
		hostfuncs.WithBundle(hostfuncs.ReactorBundle(access, int(l.rt.config.MaxReadFileBytes))),
	)
	if err != nil {
		return nil, err
	}

	guestLog := wazeroadapter.NewGuestLogger(logger, l.rt.config.LogRatePerSecond, l.rt.config.LogBurst)
	err = wazeroadapter.RegisterWithRuntime(ctx, rt, registry,
		wazeroadapter.WithLogger(logger),
		wazeroadapter.WithCustomHandler(guestLog.Handler()),
		wazeroadapter.WithCustomHandler(wazeroadapter.GetTimeHandler(l.rt.now)),
	)
	if err != nil {
		return nil, err
	}
	return guestLog, nil
}

// verifyHeader checks the ABI custom section. A missing or unreadable header
// means the artifact was not built for this host; a readable one with the
// wrong version is an incompatibility.
func verifyHeader(compiled wazero.CompiledModule, declared uint32) (domainerrors.LoadErrorKind, error) {
	var payload []byte
	found := false
	for _, sec := range compiled.CustomSections() {
		if sec.Name() == abi.HeaderSection {
			payload, found = sec.Data(), true
			break
		}
	}
	if !found {
		return domainerrors.LoadCorruptArtifact, fmt.Errorf("missing %q section", abi.HeaderSection)
	}

	version, err := abi.DecodeHeader(payload)
	if err != nil {
		return domainerrors.LoadCorruptArtifact, err
	}
	if !abi.Supported(version) {
		return domainerrors.LoadIncompatibleABI, fmt.Errorf("abi version %d outside supported range [%d, %d]", version, abi.MinVersion, abi.MaxVersion)
	}
	if version != declared {
		return domainerrors.LoadIncompatibleABI, fmt.Errorf("artifact abi version %d does not match declared %d", version, declared)
	}
	return 0, nil
}

func verifyExports(compiled wazero.CompiledModule, model entities.ExecutionModel) error {
	if _, ok := compiled.ExportedMemories()[abi.ExportMemory]; !ok {
		return fmt.Errorf("missing %q export", abi.ExportMemory)
	}

	required := requiredExports
	if model == entities.ModelReactor {
		required = append(slices.Clip(required), exportSig{name: abi.ExportInitialize})
	}

	exported := compiled.ExportedFunctions()
	for _, want := range required {
		def, ok := exported[want.name]
		if !ok {
			return fmt.Errorf("missing %q export", want.name)
		}
		if !slices.Equal(def.ParamTypes(), want.params) || !slices.Equal(def.ResultTypes(), want.results) {
			return fmt.Errorf("export %q has signature %v -> %v, want %v -> %v",
				want.name, def.ParamTypes(), def.ResultTypes(), want.params, want.results)
		}
	}
	return nil
}

func verifyImports(compiled wazero.CompiledModule, model entities.ExecutionModel) error {
	if mems := compiled.ImportedMemories(); len(mems) > 0 {
		module, name, _ := mems[0].Import()
		return fmt.Errorf("memory import %s.%s not permitted", module, name)
	}

	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		switch {
		case model == entities.ModelImported:
			return fmt.Errorf("import %s.%s not permitted for %s modules", module, name, model)
		case module == abi.WASIModule:
		case module == abi.HostModule && slices.Contains(reactorHostFunctions, name):
		default:
			return fmt.Errorf("import %s.%s not provided by host", module, name)
		}
	}
	return nil
}

// readOnlyMounts exposes granted directories to WASI. Files and patterns stay
// reachable through read_file only.
func readOnlyMounts(paths []string) wazero.FSConfig {
	cfg := wazero.NewFSConfig()
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			cfg = cfg.WithReadOnlyDirMount(p, p)
		}
	}
	return cfg
}
