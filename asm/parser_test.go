package asm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/slotvm/asm"
	"github.com/tetratelabs/slotvm/vm"
)

func TestParse_instructions(t *testing.T) {
	prog, err := asm.Parse([]byte(`MOV 7 a; OUT a`))
	require.NoError(t, err)
	require.Len(t, prog.Main, 2)

	mov := prog.Main[0]
	assert.Equal(t, asm.OpMov, mov.Op)
	assert.Equal(t, asm.ValWord, mov.Val.Kind)
	assert.EqualValues(t, 7, mov.Val.Word)
	assert.Equal(t, asm.VarNamed, mov.Var.Kind)
	assert.Equal(t, "a", mov.Var.Name)

	out := prog.Main[1]
	assert.Equal(t, asm.OpOut, out.Op)
	assert.Equal(t, asm.ValVar, out.Val.Kind)
	assert.Equal(t, "a", out.Val.Var.Name)
}

func TestParse_numberLiterals(t *testing.T) {
	prog, err := asm.Parse([]byte(`MOV 1_000_000 a; MOV 0 b`))
	require.NoError(t, err)
	assert.EqualValues(t, 1000000, prog.Main[0].Val.Word)
	assert.EqualValues(t, 0, prog.Main[1].Val.Word)
}

func TestParse_stringLiteralEscapes(t *testing.T) {
	prog, err := asm.Parse([]byte(`CALL puts "a\nb\"c\\d"`))
	require.NoError(t, err)
	call := prog.Main[0]
	require.Len(t, call.Args, 1)
	assert.Equal(t, asm.ValStr, call.Args[0].Kind)
	assert.Equal(t, "a\nb\"c\\d", call.Args[0].Str)
}

func TestParse_indirectVar(t *testing.T) {
	prog, err := asm.Parse([]byte(`MOV 42 &p; MOV &p x`))
	require.NoError(t, err)

	store := prog.Main[0]
	require.Equal(t, asm.VarIndirect, store.Var.Kind)
	assert.Equal(t, "p", store.Var.Addr.Var.Name)

	load := prog.Main[1]
	assert.Equal(t, asm.ValVar, load.Val.Kind)
	assert.Equal(t, asm.VarIndirect, load.Val.Var.Kind)
}

func TestParse_callForms(t *testing.T) {
	prog, err := asm.Parse([]byte(`CALL sq 9 r; CALL noop; RCALL sq r2`))
	require.NoError(t, err)

	sq := prog.Main[0]
	assert.Equal(t, "sq", sq.CallName)
	require.Len(t, sq.Args, 1)
	assert.EqualValues(t, 9, sq.Args[0].Word)
	require.NotNil(t, sq.Result)
	assert.Equal(t, "r", sq.Result.Name)

	noop := prog.Main[1]
	assert.Empty(t, noop.Args)
	assert.Nil(t, noop.Result)

	rcall := prog.Main[2]
	assert.Equal(t, asm.OpRCall, rcall.Op)
	assert.Equal(t, "sq", rcall.CallName)
	require.NotNil(t, rcall.Result)
	assert.Equal(t, "r2", rcall.Result.Name)
}

func TestParse_multiArgCall(t *testing.T) {
	prog, err := asm.Parse([]byte(`CALL write h, p, n`))
	require.NoError(t, err)
	call := prog.Main[0]
	require.Len(t, call.Args, 3)
	assert.Nil(t, call.Result)
}

func TestParse_func(t *testing.T) {
	prog, err := asm.Parse([]byte(`FUNC sq { MUL arg0 arg0; MOV arg0 ret }; CALL sq 9 r`))
	require.NoError(t, err)
	require.Len(t, prog.Functions, 1)
	assert.Equal(t, "sq", prog.Functions[0].Name)
	assert.Len(t, prog.Functions[0].Body, 2)
	require.Len(t, prog.Main, 1)
}

func TestParse_labelScopingAllowsDuplicateNamesAcrossFunctions(t *testing.T) {
	src := `FUNC f { LABEL: L; OUT 1; JZ 0 L }; FUNC g { LABEL: L; OUT 2; JZ 0 L }; CALL f; CALL g`
	prog, err := asm.Parse([]byte(src))
	require.NoError(t, err)
	require.Len(t, prog.Functions, 2)
}

func TestParse_errors(t *testing.T) {
	cases := []string{
		`MOV`,
		`MOV 7`,
		`BOGUS 1 a`,
		`MOV "unterminated`,
		`MOV 1 a MOV 2 b`, // missing ';'
	}
	for _, src := range cases {
		_, err := asm.Parse([]byte(src))
		require.Error(t, err, src)
		var pe *vm.ParseError
		assert.ErrorAs(t, err, &pe, src)
	}
}

func TestParse_trailingSemicolonTolerated(t *testing.T) {
	_, err := asm.Parse([]byte(`NOP;`))
	require.NoError(t, err)
}
