// Package module implements the host-symbol registry that an INCLUDE
// directive draws from: a Module exports an ordered list of Symbols, a
// Registry holds every Module a host has registered, and resolving an
// INCLUDE copies the named module's symbols into the program's flat,
// bare-name symbol table.
package module

import (
	"io"
	"os"

	"github.com/tetratelabs/slotvm/vm"
)

// HostFunc is the calling convention every host-native symbol is adapted
// to: words in, words out. Symbols whose natural signature differs (e.g.
// write(handle, ptr, n)) marshal words back into typed values internally.
type HostFunc func(mem *vm.Memory, args []vm.Word) ([]vm.Word, error)

// Symbol is one exported binding of a Module.
type Symbol struct {
	Name      string
	Arity     int
	HasResult bool
	Fn        HostFunc
}

// Module is a named bundle of host-native symbols made available to a
// program via INCLUDE.
type Module struct {
	Name    string
	Symbols []Symbol
}

// Registry holds every Module a host has registered and the set of symbols
// a program has pulled in via INCLUDE so far.
type Registry struct {
	modules  map[string]*Module
	resolved map[string]Symbol
}

// Option configures the standard streams the built-in std and io modules
// read and write through: a host (or a test) supplies its own
// io.Writer/io.Reader instead of the VM reaching for the process's real
// file descriptors.
type Option func(*streams)

type streams struct {
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader
}

// WithStdout redirects std.printc/printa and io's handle 0.
func WithStdout(w io.Writer) Option { return func(s *streams) { s.stdout = w } }

// WithStderr redirects io's handle 1.
func WithStderr(w io.Writer) Option { return func(s *streams) { s.stderr = w } }

// WithStdin redirects io's handle 2.
func WithStdin(r io.Reader) Option { return func(s *streams) { s.stdin = r } }

// NewRegistry returns a Registry pre-populated with the two built-in
// modules, std and io, wired to the process's real stdout/stderr/stdin
// unless overridden by opts.
func NewRegistry(opts ...Option) *Registry {
	s := streams{stdout: os.Stdout, stderr: os.Stderr, stdin: os.Stdin}
	for _, opt := range opts {
		opt(&s)
	}

	r := &Registry{
		modules:  make(map[string]*Module),
		resolved: make(map[string]Symbol),
	}
	r.Register(newStdModule(s.stdout))
	r.Register(newIOModule(s))
	return r
}

// Register adds m, making it available to subsequent INCLUDE directives. A
// host embedding this VM calls this before program load to add its own
// modules alongside std and io.
func (r *Registry) Register(m *Module) {
	r.modules[m.Name] = m
}

// Include resolves name against the registered modules, making every symbol
// it exports available under its bare name. An unknown module name is
// non-fatal: ok is false and nothing is resolved. Both engines ignore ok
// and continue.
func (r *Registry) Include(name string) (ok bool) {
	m, found := r.modules[name]
	if !found {
		return false
	}
	for _, sym := range m.Symbols {
		r.resolved[sym.Name] = sym
	}
	return true
}

// Lookup finds a previously INCLUDEd symbol by its bare name.
func (r *Registry) Lookup(name string) (Symbol, bool) {
	s, ok := r.resolved[name]
	return s, ok
}

// StdPrintc returns std's printc symbol directly, bypassing INCLUDE
// resolution. OUT is an intrinsic that lowers unconditionally to std.printc
// on both backends (see frontend.Plan's handling of OpOut) regardless of
// whether the source ever spells INCLUDE std.
func (r *Registry) StdPrintc() (Symbol, bool) {
	m, ok := r.modules["std"]
	if !ok {
		return Symbol{}, false
	}
	for _, s := range m.Symbols {
		if s.Name == "printc" {
			return s, true
		}
	}
	return Symbol{}, false
}
