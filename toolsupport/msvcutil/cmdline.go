// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package msvcutil

import (
	"fmt"
	"os"
	"strings"

	"go.chromium.org/infra/build/clcache/winpath"
)

// InputType is the language cl.exe assigns to an input file.
type InputType int

const (
	InputUnknown InputType = iota
	InputObject
	InputC
	InputCpp
)

// Tag returns a short stable name for the type. It is hashed into the
// direct-mode fingerprint, so renames that flip the language selection also
// flip the fingerprint.
func (t InputType) Tag() string {
	switch t {
	case InputC:
		return "c"
	case InputCpp:
		return "cpp"
	case InputObject:
		return "object"
	default:
		return "unknown"
	}
}

// InputTypeForName infers the input type from the filename extension, the
// way cl.exe does when no /T* option applies.
func InputTypeForName(name string) InputType {
	switch strings.ToLower(winpath.Ext(name)) {
	case ".c":
		return InputC
	case ".cpp", ".cxx", ".cc":
		return InputCpp
	}
	return InputObject
}

// DebugFormat is the debug info layout selected on the command line.
type DebugFormat int

const (
	DebugNone DebugFormat = iota
	// DebugObjectFile is /Z7: debug info embedded in the object file.
	DebugObjectFile
	// DebugSeparateFile is /Zi: debug info in a shared PDB.
	DebugSeparateFile
	// DebugSeparateFileEditAndContinue is /ZI.
	DebugSeparateFileEditAndContinue
)

// MergeMode selects which parsed fields Merge re-emits.
type MergeMode int

const (
	// MergeAll re-emits every field including input files.
	MergeAll MergeMode = iota
	// MergeSkipCoveredByPreprocess drops includes, defines and the object
	// path; those are subsumed by a preprocessor pass. Reserved for a
	// future preprocessor mode.
	MergeSkipCoveredByPreprocess
	// MergeDirectModeCommonArgs drops the default-input-type selector (and
	// inputs); the per-input fingerprint accounts for the effective type
	// separately.
	MergeDirectModeCommonArgs
	// MergeSkipInputs re-emits everything except input files.
	MergeSkipInputs
)

// InputFile is one input argument with its declared type.
type InputFile struct {
	Name string
	Type InputType
}

// Arg renders the input as a command line argument.
func (f InputFile) Arg() string {
	switch f.Type {
	case InputC:
		return "/Tc" + f.Name
	case InputCpp:
		return "/Tp" + f.Name
	}
	return f.Name
}

// PCHConfig is the precompiled-header state of a command line.
// Create, Use and Ignore are independent; real command lines present
// contradictory combinations and cl.exe diagnoses them, not us.
type PCHConfig struct {
	Create      bool
	CreateValue string
	Use         bool
	UseValue    string
	Path        string
	Ignore      bool
}

// IsCreate reports whether this invocation produces a PCH. /Y- wins over /Yc.
func (p PCHConfig) IsCreate() bool {
	return !p.Ignore && p.Create
}

// OutputPath returns the path of the produced PCH for inputFile.
// defaultName is used when the configured path is a directory.
func (p PCHConfig) OutputPath(inputFile, defaultName string) string {
	if p.Path == "" {
		return winpath.ChangeExt(inputFile, ".pch")
	}
	if winpath.EndsWithSep(p.Path) {
		return p.Path + defaultName
	}
	return winpath.ChangeExt(p.Path, ".pch")
}

// maxCommandFileDepth caps @file nesting. The limit cl.exe itself applies is
// unknown; this is an arbitrary amount that also terminates cyclic inclusion.
const maxCommandFileDepth = 100

// CommandLine is the parsed form of a cl.exe invocation.
//
// It parses the limited subset of cl.exe syntax needed to extract info and
// rewrite the compilation command; everything unrecognized is carried through
// verbatim in Options. cl.exe options may implicitly modify related option
// state, and that may change between compiler versions; no attempt is made to
// model it.
type CommandLine struct {
	CompileOnly      bool
	DefaultInputType InputType
	DebugFormat      DebugFormat
	Includes         []string
	Defines          []string
	Options          []string
	PDBPath          string
	ObjectPath       string
	PCH              PCHConfig
	Inputs           []InputFile

	commandFileDepth int
}

// Parse consumes a full argument vector (argv[0] is the compiler).
// The CL environment variable is interpreted as a fragment prepended to the
// arguments and _CL_ as a fragment appended to them, the way cl.exe does.
func (c *CommandLine) Parse(argv []string) error {
	if v := os.Getenv("CL"); v != "" {
		if err := c.parseLine(v); err != nil {
			return err
		}
	}
	if len(argv) > 1 {
		if err := c.parseList(argv[1:]); err != nil {
			return err
		}
	}
	if v := os.Getenv("_CL_"); v != "" {
		if err := c.parseLine(v); err != nil {
			return err
		}
	}
	return nil
}

// splitOption returns the option body if item is an option token.
func splitOption(item string) (string, bool) {
	if item == "" {
		return "", false
	}
	if item[0] != '/' && item[0] != '-' {
		return "", false
	}
	return item[1:], true
}

// sanitizePath normalizes a drive letter to upper case. This improves the
// cache hit rate; it is not required for correct operation.
func sanitizePath(path string) string {
	if len(path) > 2 && path[1] == ':' {
		return strings.ToUpper(path[:1]) + path[1:]
	}
	return path
}

func dropLeadingColon(s string) string {
	// Some arguments take an optional colon separator (both "/Fooutput.obj"
	// and "/Fo:output.obj" are valid).
	return strings.TrimPrefix(s, ":")
}

func (c *CommandLine) parseList(items []string) error {
	i := 0
	nextItem := func() (string, error) {
		i++
		if i >= len(items) {
			return "", fmt.Errorf("option %s expects another item", items[i-1])
		}
		return items[i], nil
	}
	// If the option supports a colon and the colon was not used, the value
	// must be glued to the option (it cannot be the next item).
	retrieveArg := func(s string, usesColon bool) (string, error) {
		arg := s
		if usesColon {
			arg = dropLeadingColon(s)
		}
		if arg != "" {
			return arg, nil
		}
		if usesColon {
			return "", fmt.Errorf("option %s expects an argument", items[i])
		}
		return nextItem()
	}
	for ; i < len(items); i++ {
		item := items[i]
		option, ok := splitOption(item)
		if !ok {
			if strings.HasPrefix(item, "@") {
				// Inline the file. The command-file option itself is not
				// tracked.
				if err := c.parseFile(item[1:]); err != nil {
					return err
				}
				continue
			}
			c.appendFile(item, InputUnknown)
			continue
		}
		switch {
		case option == "link":
			// Do not record /link nor any following items from this list.
			return nil
		case option == "c":
			c.CompileOnly = true
		case option == "TC":
			c.DefaultInputType = InputC
		case option == "TP":
			c.DefaultInputType = InputCpp
		case strings.HasPrefix(option, "Tc"), strings.HasPrefix(option, "Tp"):
			fileType := InputC
			if strings.HasPrefix(option, "Tp") {
				fileType = InputCpp
			}
			arg, err := retrieveArg(option[2:], false)
			if err != nil {
				return err
			}
			c.appendFile(sanitizePath(arg), fileType)
		case strings.HasPrefix(option, "D"):
			arg, err := retrieveArg(option[1:], false)
			if err != nil {
				return err
			}
			c.Defines = append(c.Defines, arg)
		case strings.HasPrefix(option, "Fd"):
			arg, err := retrieveArg(option[2:], true)
			if err != nil {
				return err
			}
			c.PDBPath = sanitizePath(arg)
		case strings.HasPrefix(option, "Fo"):
			arg, err := retrieveArg(option[2:], true)
			if err != nil {
				return err
			}
			c.ObjectPath = sanitizePath(arg)
		case strings.HasPrefix(option, "Fp"):
			arg, err := retrieveArg(option[2:], true)
			if err != nil {
				return err
			}
			c.PCH.Path = sanitizePath(arg)
		case strings.HasPrefix(option, "I"):
			arg, err := retrieveArg(option[1:], false)
			if err != nil {
				return err
			}
			c.Includes = append(c.Includes, sanitizePath(arg))
		case option == "Y-":
			c.PCH.Ignore = true
		case strings.HasPrefix(option, "Yc"):
			c.PCH.Create = true
			c.PCH.CreateValue = sanitizePath(option[2:])
		case strings.HasPrefix(option, "Yu"):
			c.PCH.Use = true
			c.PCH.UseValue = sanitizePath(option[2:])
		case option == "Z7":
			c.DebugFormat = DebugObjectFile
		case option == "Zi":
			c.DebugFormat = DebugSeparateFile
		case option == "ZI":
			c.DebugFormat = DebugSeparateFileEditAndContinue
		default:
			// Not something we specially handle.
			c.Options = append(c.Options, option)
		}
	}
	return nil
}

func (c *CommandLine) parseLine(line string) error {
	return c.parseList(SplitArgs(line))
}

func (c *CommandLine) parseFile(name string) error {
	c.commandFileDepth++
	defer func() {
		c.commandFileDepth--
	}()
	if c.commandFileDepth > maxCommandFileDepth {
		return fmt.Errorf("command file nesting too deep at %s", name)
	}
	return readLines(name, c.parseLine)
}

func (c *CommandLine) appendFile(name string, t InputType) {
	c.Inputs = append(c.Inputs, InputFile{Name: name, Type: t})
}

// InputByName returns the input file with the given name.
func (c *CommandLine) InputByName(name string) (InputFile, error) {
	for _, f := range c.Inputs {
		if f.Name == name {
			return f, nil
		}
	}
	return InputFile{}, fmt.Errorf("failed to look up input %s", name)
}

// EffectiveType resolves the language cl.exe will use for f: the declared
// type, else the /TC//TP default, else the filename extension.
func (c *CommandLine) EffectiveType(f InputFile) InputType {
	if f.Type != InputUnknown {
		return f.Type
	}
	switch c.DefaultInputType {
	case InputC, InputCpp:
		return c.DefaultInputType
	}
	return InputTypeForName(f.Name)
}

// ObjPathIsDir reports whether the object path denotes a directory.
// An empty object path means the current directory.
func (c *CommandLine) ObjPathIsDir() bool {
	if c.ObjectPath == "" {
		return true
	}
	return winpath.EndsWithSep(c.ObjectPath)
}

// Merge re-emits a canonical argument vector for the parsed state.
// The emission order is fixed so the result is stable across processes;
// it is part of the cache fingerprint.
func (c *CommandLine) Merge(mode MergeMode) []string {
	var args []string
	if c.CompileOnly {
		args = append(args, "/c")
	}
	if mode != MergeDirectModeCommonArgs {
		switch c.DefaultInputType {
		case InputC:
			args = append(args, "/TC")
		case InputCpp:
			args = append(args, "/TP")
		}
	}
	switch c.DebugFormat {
	case DebugObjectFile:
		args = append(args, "/Z7")
	case DebugSeparateFile:
		args = append(args, "/Zi")
	case DebugSeparateFileEditAndContinue:
		args = append(args, "/ZI")
	}
	for _, o := range c.Options {
		args = append(args, "/"+o)
	}
	if c.PDBPath != "" {
		args = append(args, "/Fd:"+c.PDBPath)
	}
	if mode != MergeSkipCoveredByPreprocess {
		for _, inc := range c.Includes {
			args = append(args, "/I"+inc)
		}
		for _, d := range c.Defines {
			args = append(args, "/D", d)
		}
		if c.ObjectPath != "" {
			args = append(args, "/Fo:"+c.ObjectPath)
		}
	}
	if c.PCH.Create {
		args = append(args, "/Yc"+c.PCH.CreateValue)
	}
	if c.PCH.Use {
		args = append(args, "/Yu"+c.PCH.UseValue)
	}
	if c.PCH.Ignore {
		args = append(args, "/Y-")
	}
	if c.PCH.Path != "" {
		args = append(args, "/Fp:"+c.PCH.Path)
	}
	if mode == MergeAll {
		for _, f := range c.Inputs {
			args = append(args, f.Arg())
		}
	}
	return args
}
