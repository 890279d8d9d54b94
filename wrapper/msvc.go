// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package wrapper

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"go.chromium.org/infra/build/clcache/cache/cachestore"
	"go.chromium.org/infra/build/clcache/cache/entry"
	"go.chromium.org/infra/build/clcache/digest"
	"go.chromium.org/infra/build/clcache/execute"
	"go.chromium.org/infra/build/clcache/execute/localexec"
	"go.chromium.org/infra/build/clcache/filetracker"
	"go.chromium.org/infra/build/clcache/toolsupport/msvcutil"
	"go.chromium.org/infra/build/clcache/winpath"
)

// hashVersion is ticked when the fingerprint composition changes in a
// non-backwards-compatible way, invalidating all prior entries.
const hashVersion = "1"

// When cl.exe is started from Visual Studio it sends output to the IDE
// process instead of stderr/stdout, controlled by this variable. It is
// scrubbed so output stays capturable.
const envVSOutputRedirection = "VS_UNICODE_OUTPUT"

// cl.exe prepends/appends the contents of these variables to the command
// line it interprets. The parser consumes them, so the child must not see
// them again.
const (
	envCLPrefix  = "CL"
	envCLPostfix = "_CL_"
)

// minVCVersion is the oldest toolchain with /sourceDependencies support.
var minVCVersion = msvcutil.Version{Major: 14, Minor: 27}

// maxInlineCmdline is the longest argument string passed directly; longer
// command lines go through a response file.
const maxInlineCmdline = 8000

// MSVCWrapper caches cl.exe compile invocations.
type MSVCWrapper struct {
	args            []string
	parser          *msvcutil.CommandLine
	toolVersion     msvcutil.ToolVersion
	tlog            *filetracker.TrackingLog
	envIncludePaths []string
	deps            *DepsCache
}

var _ ProgramWrapper = (*MSVCWrapper)(nil)

// NewMSVCWrapper creates a wrapper for the argument vector argv.
// The wrapper lives for exactly one invocation.
func NewMSVCWrapper(argv []string) *MSVCWrapper {
	return &MSVCWrapper{
		args: argv,
		tlog: filetracker.NewTrackingLog(),
		deps: NewDepsCache(),
	}
}

// CanHandleCommand implements ProgramWrapper.
func (w *MSVCWrapper) CanHandleCommand() bool {
	if len(w.args) == 0 {
		return false
	}
	cmd := strings.ToLower(winpath.TrimExt(winpath.Base(w.args[0])))
	return cmd == "cl"
}

// ResolveArgs implements ProgramWrapper.
func (w *MSVCWrapper) ResolveArgs(ctx context.Context) error {
	// Version 1.0 of the source dependencies json stores all paths in
	// lowercase with backslash separators; preprocess INCLUDE so a plain
	// prefix compare works.
	for _, p := range strings.Split(os.Getenv("INCLUDE"), ";") {
		if p == "" {
			continue
		}
		w.envIncludePaths = append(w.envIncludePaths, strings.ToLower(p))
	}
	tv, err := msvcutil.DetectToolVersion(w.args[0])
	if err != nil {
		return err
	}
	w.toolVersion = tv

	w.parser = &msvcutil.CommandLine{}
	if err := w.parser.Parse(w.args); err != nil {
		return err
	}

	// Only /c is supported. Other options that inhibit linking represent
	// invocations there is no caching for (e.g. preprocessed output).
	if !w.parser.CompileOnly {
		return configErrorf("cannot handle invocation with chained link")
	}
	if len(w.parser.Inputs) == 0 {
		return configErrorf("no input files")
	}
	// cl.exe errors on this too; it is a command line mistake.
	if len(w.parser.Inputs) > 1 && !w.parser.ObjPathIsDir() {
		return configErrorf("single object file path specified for multiple inputs")
	}
	// PDB outputs of /Zi and /ZI may merge contents from objects of other
	// invocations, so a cached PDB could be missing state. /Z7 has the
	// same information without the shared file; the user must switch
	// rather than have the choice silently overridden.
	if w.parser.DebugFormat == msvcutil.DebugSeparateFile ||
		w.parser.DebugFormat == msvcutil.DebugSeparateFileEditAndContinue {
		return configErrorf("cannot handle invocation with shared pdb file; use /Z7 instead")
	}
	if w.toolVersion.VCVersion.Less(minVCVersion) {
		return configErrorf("VC Tools >= %s is required for /sourceDependencies support", minVCVersion.Format(2))
	}
	return nil
}

// Capabilities implements ProgramWrapper. cl.exe never overwrites existing
// outputs in place, so hard links are safe.
func (w *MSVCWrapper) Capabilities() []string {
	return []string{HardLinksCapability}
}

// PreprocessSource implements ProgramWrapper using direct mode: the raw
// input bytes stand in for preprocessor output. If only a source filename
// changes, the cache still hits and places outputs at the right location;
// that is acceptable except when the rename would change the language mode
// the compiler selects, so the effective type is prepended to the content.
func (w *MSVCWrapper) PreprocessSource(ctx context.Context) ([]PPSource, error) {
	sources := make([]PPSource, 0, len(w.parser.Inputs))
	for _, f := range w.parser.Inputs {
		data, err := os.ReadFile(f.Name)
		if err != nil {
			return nil, err
		}
		tag := w.parser.EffectiveType(f).Tag()
		sources = append(sources, PPSource{
			Key:  f.Name,
			Data: append([]byte(tag), data...),
		})
	}
	return sources, nil
}

// RelevantArguments implements ProgramWrapper. It returns the parser state
// that the preprocess surrogate doesn't already account for.
func (w *MSVCWrapper) RelevantArguments() ([]string, error) {
	return w.parser.Merge(msvcutil.MergeDirectModeCommonArgs), nil
}

// RelevantEnvVars implements ProgramWrapper. The full original value of
// INCLUDE is hashed in case it was not parsed correctly; it also keeps the
// system-include filtering of dependency records safe.
func (w *MSVCWrapper) RelevantEnvVars() (map[string]string, error) {
	return map[string]string{"INCLUDE": os.Getenv("INCLUDE")}, nil
}

// ProgramID implements ProgramWrapper.
func (w *MSVCWrapper) ProgramID() (string, error) {
	return hashVersion + w.toolVersion.HostArch + w.toolVersion.TargetArch +
		w.toolVersion.VCVersion.Format(4), nil
}

// BuildFiles implements ProgramWrapper for one input file.
func (w *MSVCWrapper) BuildFiles(key string) (cachestore.BuildFiles, error) {
	files := cachestore.BuildFiles{}
	var objectPath string
	if !w.parser.ObjPathIsDir() {
		// A non-directory object path implies a single input; the object
		// name comes from the path, completed with the default extension.
		objectPath = w.parser.ObjectPath
		if winpath.Ext(objectPath) == "" {
			objectPath += ".obj"
		}
	} else {
		objectPath = w.parser.ObjectPath + winpath.TrimExt(winpath.Base(key)) + ".obj"
	}
	files["object"] = cachestore.ExpectedFile{Path: objectPath, Required: true}

	if w.parser.PCH.IsCreate() {
		defaultName := "vc" + w.toolVersion.VCVersion.Format(1) + "0.pch"
		files["pch"] = cachestore.ExpectedFile{
			Path:     w.parser.PCH.OutputPath(key, defaultName),
			Required: true,
		}
	}
	for id, f := range w.tlog.BuildFiles(key) {
		files[id] = f
	}
	return files, nil
}

// FilterCacheHit implements ProgramWrapper: a candidate hit is only usable
// if every recorded dependency still has the recorded content.
func (w *MSVCWrapper) FilterCacheHit(e *entry.Entry) bool {
	for path, want := range e.Dependencies {
		d, ok := w.deps.Get(path)
		if !ok {
			var err error
			d, err = digest.FromFile(path)
			if err != nil {
				// The file may be gone; the cached result must not be
				// used.
				return false
			}
			w.deps.Set(path, d)
		}
		if d != want {
			return false
		}
	}
	return true
}

// isSystemInclude reports whether path sits under one of the INCLUDE
// directories. Both sides are lowercased; this is a best-effort size
// optimization, the INCLUDE value itself is part of the fingerprint.
func (w *MSVCWrapper) isSystemInclude(path string) bool {
	path = strings.ToLower(path)
	for _, p := range w.envIncludePaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// RunForMiss implements ProgramWrapper: it runs the original command for
// the inputs that missed, collects the compiler's dependency report and
// writes the TLOG records.
func (w *MSVCWrapper) RunForMiss(ctx context.Context, misses []*MissInfo) (execute.Result, error) {
	args := w.parser.Merge(msvcutil.MergeSkipInputs)
	for _, m := range misses {
		f, err := w.parser.InputByName(m.Key)
		if err != nil {
			return execute.Result{}, err
		}
		args = append(args, f.Arg())
		w.tlog.AddSource(f.Name)
	}
	w.tlog.FinalizeSources()

	depsDir, err := os.MkdirTemp("", "clcache")
	if err != nil {
		return execute.Result{}, err
	}
	defer os.RemoveAll(depsDir)
	// cl.exe only treats the argument as a directory if one exists at the
	// given location, so it must be created first.
	args = append(args, "/sourceDependencies", depsDir)

	res, err := w.runWithResponseFile(ctx, args)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		// Leave the cache unchanged; the runner replays the diagnostics.
		return res, nil
	}

	for _, m := range misses {
		jsonPath := depsDir + string(os.PathSeparator) + winpath.Base(m.Key) + ".json"
		srcDeps, err := msvcutil.ParseSourceDeps(jsonPath)
		if err != nil {
			return res, err
		}
		records := entry.DependencyRecords{}
		for _, dep := range srcDeps {
			if d, ok := w.deps.Get(dep); ok {
				records[dep] = d
				continue
			}
			// Compiler-shipped headers change with the toolchain, which
			// the program id and INCLUDE already cover; recording them
			// would bloat every entry.
			if w.isSystemInclude(dep) {
				continue
			}
			d, err := digest.FromFile(dep)
			if err != nil {
				return res, fmt.Errorf("failed to hash dependency %s: %w", dep, err)
			}
			records[dep] = d
			w.deps.Set(dep, d)
		}
		m.Deps = records

		if err := w.tlog.WriteLogs(m.Key, m.BuildFiles, srcDeps); err != nil {
			return res, err
		}
	}
	return res, nil
}

// runWithResponseFile executes the compiler, falling back to the @file
// protocol when the argument string gets close to the command line length
// limit.
func (w *MSVCWrapper) runWithResponseFile(ctx context.Context, args []string) (execute.Result, error) {
	cmd := &execute.Cmd{
		Args: []string{w.args[0]},
		Env:  scrubbedEnv(),
	}
	cmdline := strings.Join(args, " ")
	if len(cmdline) > maxInlineCmdline {
		rsp := os.TempDir() + string(os.PathSeparator) + "clcache-" + uuid.NewString() + ".rsp"
		cmd.RSPFile = rsp
		cmd.RSPFileContent = []byte(cmdline)
		cmd.Args = append(cmd.Args, "@"+rsp)
	} else {
		cmd.Args = append(cmd.Args, args...)
	}
	err := localexec.Run(ctx, cmd)
	return localexec.ResultOf(cmd, err)
}

// scrubbedEnv is the child environment without the variables cl.exe treats
// as extra command line input or output redirection. The parsed contents of
// CL/_CL_ are already merged into the rewritten arguments.
func scrubbedEnv() []string {
	env := os.Environ()
	kept := env[:0]
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		switch strings.ToUpper(name) {
		case envCLPrefix, envCLPostfix, envVSOutputRedirection:
			continue
		}
		kept = append(kept, kv)
	}
	return kept
}
