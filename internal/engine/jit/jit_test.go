package jit_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/slotvm/asm"
	"github.com/tetratelabs/slotvm/internal/engine/jit"
	"github.com/tetratelabs/slotvm/module"
	"github.com/tetratelabs/slotvm/vm"
)

func runJIT(t *testing.T, src string) (string, error) {
	t.Helper()
	prog, err := asm.Parse([]byte(src))
	require.NoError(t, err)

	var out bytes.Buffer
	reg := module.NewRegistry(module.WithStdout(&out))
	mem := vm.NewMemory()

	compiled, err := jit.Compile(prog, reg, mem)
	require.NoError(t, err)
	_, err = compiled.Run(nil)
	return out.String(), err
}

func TestJIT_endToEndScenarios(t *testing.T) {
	t.Run("hello word", func(t *testing.T) {
		out, err := runJIT(t, `MOV 7 a; OUT a`)
		require.NoError(t, err)
		assert.Equal(t, "7\n", out)
	})

	t.Run("countdown", func(t *testing.T) {
		out, err := runJIT(t, `MOV 3 n; LABEL: L; OUT n; SUB n 1; JNZ n L`)
		require.NoError(t, err)
		assert.Equal(t, "3\n2\n1\n", out)
	})

	t.Run("fibonacci 10", func(t *testing.T) {
		src := `MOV 0 a; MOV 1 b; MOV 10 n; LABEL: L; OUT a; MOV a t; ADD a b; MOV t b; SUB n 1; JNZ n L`
		out, err := runJIT(t, src)
		require.NoError(t, err)
		want := []string{"0", "1", "1", "2", "3", "5", "8", "13", "21", "34"}
		assert.Equal(t, strings.Join(want, "\n")+"\n", out)
	})

	t.Run("indirect store", func(t *testing.T) {
		out, err := runJIT(t, `INCLUDE std; CALL malloc 16 p; MOV 42 &p; OUT &p`)
		require.NoError(t, err)
		assert.Equal(t, "42\n", out)
	})

	t.Run("function call with return", func(t *testing.T) {
		src := `FUNC sq { MUL arg0 arg0; MOV arg0 ret }; CALL sq 9 r; OUT r`
		out, err := runJIT(t, src)
		require.NoError(t, err)
		assert.Equal(t, "81\n", out)
	})

	t.Run("ascii output", func(t *testing.T) {
		out, err := runJIT(t, `INCLUDE std; CALL printa 65`)
		require.NoError(t, err)
		assert.Equal(t, "A", out)
	})
}

func TestJIT_rcallForwardsArgs(t *testing.T) {
	// id is never CALLed directly, so its arity is inherited from the one
	// function that RCALLs it.
	src := `FUNC id { MOV arg0 ret }; FUNC caller { RCALL id r; MOV r ret }; CALL caller 42 out; OUT out`
	out, err := runJIT(t, src)
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)
}

func TestJIT_swapIsATrueExchange(t *testing.T) {
	out, err := runJIT(t, `MOV 5 x; MOV 9 y; SWAP x y; SWAP x y; OUT x; OUT y`)
	require.NoError(t, err)
	assert.Equal(t, "5\n9\n", out)
}

func TestJIT_divideByZeroIsFatal(t *testing.T) {
	_, err := runJIT(t, `MOV 1 x; DIV x 0`)
	require.Error(t, err)
	assert.Same(t, vm.ErrDivideByZero, err)
}

func TestJIT_arityMismatchIsFatal(t *testing.T) {
	prog, err := asm.Parse([]byte(`FUNC f { NOP }; CALL f 1; CALL f 1, 2`))
	require.NoError(t, err)
	_, err = jit.Compile(prog, module.NewRegistry(), vm.NewMemory())
	require.Error(t, err)
	var le *vm.LinkError
	assert.ErrorAs(t, err, &le)
}

func TestJIT_undefinedLabelIsFatal(t *testing.T) {
	prog, err := asm.Parse([]byte(`JZ 0 nowhere`))
	require.NoError(t, err)
	_, err = jit.Compile(prog, module.NewRegistry(), vm.NewMemory())
	require.Error(t, err)
	var le *vm.LinkError
	assert.ErrorAs(t, err, &le)
}

func TestJIT_forwardLabel(t *testing.T) {
	// JZ/JNZ referencing a label that appears later in the stream: the
	// pre-scan in frontend.lower must resolve it before emission reaches it.
	out, err := runJIT(t, `MOV 2 n; JNZ n L; OUT 0; LABEL: L; OUT n`)
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)
}

func TestJIT_recursiveCall(t *testing.T) {
	// The language has no explicit return instruction: an early exit is
	// modeled as an unconditional jump to the fall-through point via `JZ 0 end`.
	src := `FUNC fact {
		JZ arg0 base;
		MOV arg0 n; SUB n 1; CALL fact n r; MUL arg0 r; MOV arg0 ret; JZ 0 end;
		LABEL: base; MOV 1 ret;
		LABEL: end
	};
	CALL fact 5 r; OUT r`
	out, err := runJIT(t, src)
	require.NoError(t, err)
	assert.Equal(t, "120\n", out)
}
