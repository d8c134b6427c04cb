package module

import (
	"io"
	"os"
	"sync"

	"github.com/tetratelabs/slotvm/vm"
)

// ioState backs the io module's open_file/close_file pair: stdout/stderr/
// stdin are fixed handles 0/1/2 bound to the Registry's configured
// streams, and every open_file call hands out the next integer above those,
// mirroring a conventional file-descriptor table.
type ioState struct {
	mu         sync.Mutex
	stdout     io.Writer
	stderr     io.Writer
	stdin      io.Reader
	nextHandle vm.Word
	files      map[vm.Word]*os.File
}

func newIOModule(s streams) *Module {
	st := &ioState{
		stdout:     s.stdout,
		stderr:     s.stderr,
		stdin:      s.stdin,
		nextHandle: 3,
		files:      make(map[vm.Word]*os.File),
	}
	return &Module{
		Name: "io",
		Symbols: []Symbol{
			{Name: "stdout", Arity: 0, HasResult: true, Fn: constHandle(0)},
			{Name: "stderr", Arity: 0, HasResult: true, Fn: constHandle(1)},
			{Name: "stdin", Arity: 0, HasResult: true, Fn: constHandle(2)},
			{Name: "write", Arity: 3, HasResult: false, Fn: st.write},
			{Name: "read", Arity: 3, HasResult: true, Fn: st.read},
			{Name: "open_file", Arity: 2, HasResult: true, Fn: st.openFile},
			{Name: "close_file", Arity: 1, HasResult: false, Fn: st.closeFile},
		},
	}
}

func constHandle(h vm.Word) HostFunc {
	return func(*vm.Memory, []vm.Word) ([]vm.Word, error) { return []vm.Word{h}, nil }
}

func (s *ioState) writer(handle vm.Word) (io.Writer, error) {
	switch handle {
	case 0:
		return s.stdout, nil
	case 1:
		return s.stderr, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[handle]
	if !ok {
		return nil, &vm.RuntimeError{Msg: "io: write to unknown handle"}
	}
	return f, nil
}

func (s *ioState) reader(handle vm.Word) (io.Reader, error) {
	if handle == 2 {
		return s.stdin, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[handle]
	if !ok {
		return nil, &vm.RuntimeError{Msg: "io: read from unknown handle"}
	}
	return f, nil
}

func (s *ioState) write(mem *vm.Memory, args []vm.Word) ([]vm.Word, error) {
	handle, ptr, n := args[0], args[1], args[2]
	w, err := s.writer(handle)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(mem.Slice(ptr, n)); err != nil {
		return nil, &vm.RuntimeError{Msg: err.Error()}
	}
	return nil, nil
}

func (s *ioState) read(mem *vm.Memory, args []vm.Word) ([]vm.Word, error) {
	handle, ptr, max := args[0], args[1], args[2]
	r, err := s.reader(handle)
	if err != nil {
		return nil, err
	}
	n, err := r.Read(mem.Slice(ptr, max))
	if err != nil && err != io.EOF {
		return nil, &vm.RuntimeError{Msg: err.Error()}
	}
	return []vm.Word{vm.Word(n)}, nil
}

func (s *ioState) openFile(mem *vm.Memory, args []vm.Word) ([]vm.Word, error) {
	ptr, n := args[0], args[1]
	name := string(mem.Slice(ptr, n))
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &vm.RuntimeError{Msg: err.Error()}
	}
	s.mu.Lock()
	h := s.nextHandle
	s.nextHandle++
	s.files[h] = f
	s.mu.Unlock()
	return []vm.Word{h}, nil
}

func (s *ioState) closeFile(_ *vm.Memory, args []vm.Word) ([]vm.Word, error) {
	h := args[0]
	s.mu.Lock()
	f, ok := s.files[h]
	delete(s.files, h)
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	if err := f.Close(); err != nil {
		return nil, &vm.RuntimeError{Msg: err.Error()}
	}
	return nil, nil
}
