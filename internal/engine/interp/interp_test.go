package interp_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/slotvm/asm"
	"github.com/tetratelabs/slotvm/internal/engine/interp"
	"github.com/tetratelabs/slotvm/module"
	"github.com/tetratelabs/slotvm/vm"
)

// runInterp parses and interprets src, returning everything std's printc/
// printa wrote.
func runInterp(t *testing.T, src string) (string, error) {
	t.Helper()
	prog, err := asm.Parse([]byte(src))
	require.NoError(t, err)

	var out bytes.Buffer
	reg := module.NewRegistry(module.WithStdout(&out))
	mem := vm.NewMemory()

	ip, err := interp.New(prog, reg, mem)
	require.NoError(t, err)
	runErr := ip.Run()
	return out.String(), runErr
}

func TestInterp_slotDefaultIsZero(t *testing.T) {
	out, err := runInterp(t, `OUT x`)
	require.NoError(t, err)
	assert.Equal(t, "0\n", out)
}

func TestInterp_roundTripArithmetic(t *testing.T) {
	cases := []struct{ a, b uint64 }{
		{0, 0}, {5, 3}, {1, ^uint64(0)}, {^uint64(0), 1}, {1 << 63, 1 << 63},
	}
	for _, c := range cases {
		src := "MOV " + itoa(c.a) + " x; ADD x " + itoa(c.b) + "; SUB x " + itoa(c.b) + "; OUT x"
		out, err := runInterp(t, src)
		require.NoError(t, err)
		assert.Equal(t, itoa(c.a)+"\n", out)
	}
}

func TestInterp_swapIsATrueExchange(t *testing.T) {
	out, err := runInterp(t, `MOV 5 x; MOV 9 y; SWAP x y; OUT x; OUT y`)
	require.NoError(t, err)
	assert.Equal(t, "9\n5\n", out)
}

func TestInterp_swapTwiceIsANoop(t *testing.T) {
	out, err := runInterp(t, `MOV 5 x; MOV 9 y; SWAP x y; SWAP x y; OUT x; OUT y`)
	require.NoError(t, err)
	assert.Equal(t, "5\n9\n", out)
}

func TestInterp_indirectRoundTrip(t *testing.T) {
	out, err := runInterp(t, `INCLUDE std; CALL malloc 8 p; MOV 123 &p; MOV &p x; OUT x`)
	require.NoError(t, err)
	assert.Equal(t, "123\n", out)
}

func TestInterp_divideByZeroIsFatal(t *testing.T) {
	_, err := runInterp(t, `MOV 1 x; DIV x 0`)
	require.Error(t, err)
	assert.Same(t, vm.ErrDivideByZero, err)
}

func TestInterp_moduloByZeroIsFatal(t *testing.T) {
	_, err := runInterp(t, `MOV 1 x; MOD x 0`)
	require.Error(t, err)
	assert.Same(t, vm.ErrDivideByZero, err)
}

func TestInterp_labelScopingAcrossFunctions(t *testing.T) {
	src := `FUNC f { LABEL: L; OUT 1; JZ 1 L }; FUNC g { LABEL: L; OUT 2; JZ 1 L }; CALL f; CALL g`
	out, err := runInterp(t, src)
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n", out)
}

func TestInterp_undefinedLabelIsFatal(t *testing.T) {
	prog, err := asm.Parse([]byte(`JZ 0 nowhere`))
	require.NoError(t, err)
	_, err = interp.New(prog, module.NewRegistry(), vm.NewMemory())
	require.Error(t, err)
	var le *vm.LinkError
	assert.ErrorAs(t, err, &le)
}

func TestInterp_functionCallWithReturn(t *testing.T) {
	src := `FUNC sq { MUL arg0 arg0; MOV arg0 ret }; CALL sq 9 r; OUT r`
	out, err := runInterp(t, src)
	require.NoError(t, err)
	assert.Equal(t, "81\n", out)
}

func TestInterp_recursiveCall(t *testing.T) {
	// The language has no explicit return instruction: an early exit is
	// modeled as an unconditional jump to the fall-through point via `JZ 0 end`.
	src := `FUNC fact {
		JZ arg0 base;
		MOV arg0 n; SUB n 1; CALL fact n r; MUL arg0 r; MOV arg0 ret; JZ 0 end;
		LABEL: base; MOV 1 ret;
		LABEL: end
	};
	CALL fact 5 r; OUT r`
	out, err := runInterp(t, src)
	require.NoError(t, err)
	assert.Equal(t, "120\n", out)
}

func TestInterp_rcallForwardsArgs(t *testing.T) {
	src := `FUNC id { MOV arg0 ret }; FUNC caller { RCALL id r; MOV r ret }; CALL caller 42 out; OUT out`
	out, err := runInterp(t, src)
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)
}

func TestInterp_callToUndeclaredSymbolIsFatal(t *testing.T) {
	_, err := runInterp(t, `CALL nope`)
	require.Error(t, err)
	var re *vm.RuntimeError
	assert.ErrorAs(t, err, &re)
}

func TestInterp_endToEndScenarios(t *testing.T) {
	t.Run("hello word", func(t *testing.T) {
		out, err := runInterp(t, `MOV 7 a; OUT a`)
		require.NoError(t, err)
		assert.Equal(t, "7\n", out)
	})

	t.Run("countdown", func(t *testing.T) {
		out, err := runInterp(t, `MOV 3 n; LABEL: L; OUT n; SUB n 1; JNZ n L`)
		require.NoError(t, err)
		assert.Equal(t, "3\n2\n1\n", out)
	})

	t.Run("fibonacci 10", func(t *testing.T) {
		src := `MOV 0 a; MOV 1 b; MOV 10 n; LABEL: L; OUT a; MOV a t; ADD a b; MOV t b; SUB n 1; JNZ n L`
		out, err := runInterp(t, src)
		require.NoError(t, err)
		want := []string{"0", "1", "1", "2", "3", "5", "8", "13", "21", "34"}
		assert.Equal(t, strings.Join(want, "\n")+"\n", out)
	})

	t.Run("indirect store", func(t *testing.T) {
		out, err := runInterp(t, `INCLUDE std; CALL malloc 16 p; MOV 42 &p; OUT &p`)
		require.NoError(t, err)
		assert.Equal(t, "42\n", out)
	})

	t.Run("function call with return", func(t *testing.T) {
		src := `FUNC sq { MUL arg0 arg0; MOV arg0 ret }; CALL sq 9 r; OUT r`
		out, err := runInterp(t, src)
		require.NoError(t, err)
		assert.Equal(t, "81\n", out)
	})

	t.Run("ascii output", func(t *testing.T) {
		out, err := runInterp(t, `INCLUDE std; CALL printa 65`)
		require.NoError(t, err)
		assert.Equal(t, "A", out)
	})
}

func itoa(w uint64) string {
	if w == 0 {
		return "0"
	}
	digits := make([]byte, 0, 20)
	for w > 0 {
		digits = append([]byte{byte('0' + w%10)}, digits...)
		w /= 10
	}
	return string(digits)
}
