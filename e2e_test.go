// Package slotvm_test holds the end-to-end scenarios: the same source
// program driven through both backends, asserting they produce identical
// output and that the expected stdout matches exactly.
package slotvm_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/slotvm/asm"
	"github.com/tetratelabs/slotvm/internal/engine/interp"
	"github.com/tetratelabs/slotvm/internal/engine/jit"
	"github.com/tetratelabs/slotvm/module"
	"github.com/tetratelabs/slotvm/vm"
)

func runBoth(t *testing.T, src string) (interpOut, jitOut string, interpErr, jitErr error) {
	t.Helper()

	prog, err := asm.Parse([]byte(src))
	require.NoError(t, err)

	var ibuf bytes.Buffer
	ireg := module.NewRegistry(module.WithStdout(&ibuf))
	ip, err := interp.New(prog, ireg, vm.NewMemory())
	require.NoError(t, err)
	interpErr = ip.Run()
	interpOut = ibuf.String()

	// jit.Compile mutates prog in place (string interning), so give the JIT
	// its own freshly parsed copy to keep the two runs independent.
	jprog, err := asm.Parse([]byte(src))
	require.NoError(t, err)
	var jbuf bytes.Buffer
	jreg := module.NewRegistry(module.WithStdout(&jbuf))
	compiled, err := jit.Compile(jprog, jreg, vm.NewMemory())
	require.NoError(t, err)
	_, jitErr = compiled.Run(nil)
	jitOut = jbuf.String()

	return
}

func TestBackendEquivalence_scenarios(t *testing.T) {
	scenarios := []struct {
		name, src, want string
	}{
		{"hello word", `MOV 7 a; OUT a`, "7\n"},
		{"countdown", `MOV 3 n; LABEL: L; OUT n; SUB n 1; JNZ n L`, "3\n2\n1\n"},
		{
			"fibonacci 10",
			`MOV 0 a; MOV 1 b; MOV 10 n; LABEL: L; OUT a; MOV a t; ADD a b; MOV t b; SUB n 1; JNZ n L`,
			strings.Join([]string{"0", "1", "1", "2", "3", "5", "8", "13", "21", "34"}, "\n") + "\n",
		},
		{"indirect store", `INCLUDE std; CALL malloc 16 p; MOV 42 &p; OUT &p`, "42\n"},
		{"function call with return", `FUNC sq { MUL arg0 arg0; MOV arg0 ret }; CALL sq 9 r; OUT r`, "81\n"},
		{"ascii output", `INCLUDE std; CALL printa 65`, "A"},
		{"unknown include is non-fatal", `INCLUDE nonesuch; MOV 1 a; OUT a`, "1\n"},
		{"swap is a true exchange", `MOV 5 x; MOV 9 y; SWAP x y; SWAP x y; OUT x; OUT y`, "5\n9\n"},
		{
			"rcall forwards the caller's arguments",
			`FUNC id { MOV arg0 ret }; FUNC caller { RCALL id r; MOV r ret }; CALL caller 42 out; OUT out`,
			"42\n",
		},
		{
			"recursive factorial",
			`FUNC fact {
				JZ arg0 base;
				MOV arg0 n; SUB n 1; CALL fact n r; MUL arg0 r; MOV r ret; JZ 0 end;
				LABEL: base; MOV 1 ret;
				LABEL: end
			};
			CALL fact 5 r; OUT r`,
			"120\n",
		},
	}

	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			iOut, jOut, iErr, jErr := runBoth(t, sc.src)
			require.NoError(t, iErr)
			require.NoError(t, jErr)
			assert.Equal(t, sc.want, iOut, "interpreter output")
			assert.Equal(t, sc.want, jOut, "jit output")
			assert.Equal(t, iOut, jOut, "backend equivalence")
		})
	}
}

func TestBackendEquivalence_divideByZero(t *testing.T) {
	_, _, iErr, jErr := runBoth(t, `MOV 1 x; DIV x 0`)
	require.Error(t, iErr)
	require.Error(t, jErr)
	assert.Same(t, vm.ErrDivideByZero, iErr)
	assert.Same(t, vm.ErrDivideByZero, jErr)
}

func TestBackendEquivalence_roundTripArithmeticFuzz(t *testing.T) {
	samples := []uint64{0, 1, 2, 12345, 1 << 32, 1<<64 - 1, 1 << 63}
	for _, a := range samples {
		for _, b := range samples {
			src := bench(a, b)
			iOut, jOut, iErr, jErr := runBoth(t, src)
			require.NoError(t, iErr)
			require.NoError(t, jErr)
			want := bench64(a)
			assert.Equal(t, want, iOut)
			assert.Equal(t, iOut, jOut)
		}
	}
}

func bench(a, b uint64) string {
	return "MOV " + fmtW(a) + " x; ADD x " + fmtW(b) + "; SUB x " + fmtW(b) + "; OUT x"
}

func bench64(a uint64) string { return fmtW(a) + "\n" }

func fmtW(w uint64) string {
	if w == 0 {
		return "0"
	}
	var digits []byte
	for w > 0 {
		digits = append([]byte{byte('0' + w%10)}, digits...)
		w /= 10
	}
	return string(digits)
}
