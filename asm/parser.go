package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tetratelabs/slotvm/vm"
)

// Parse lexes and parses src into a Program. Malformed input returns a
// *vm.ParseError carrying the byte offset of the failure; there is no
// partial success.
func Parse(src []byte) (*Program, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	prog := &Program{}
	if err := p.parseBlock(&prog.Main, true); err != nil {
		return nil, err
	}
	prog.Functions = p.functions
	return prog, nil
}

type parser struct {
	lex       *lexer
	tok       token
	functions []Function
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &vm.ParseError{Offset: p.tok.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) atBlockEnd(topLevel bool) bool {
	if topLevel {
		return p.tok.kind == tokEOF
	}
	return p.tok.kind == tokRBrace
}

// parseBlock parses `instr (';' instr)*` with a tolerated trailing ';',
// stopping at EOF for the top-level program or at '}' for a FUNC body.
// FUNC definitions encountered along the way are collected into p.functions
// rather than appended to into, since they aren't part of the linear
// instruction stream.
func (p *parser) parseBlock(into *[]Instruction, topLevel bool) error {
	for {
		if p.atBlockEnd(topLevel) {
			return nil
		}
		instr, isFunc, fn, err := p.parseInstrOrFunc()
		if err != nil {
			return err
		}
		if isFunc {
			p.functions = append(p.functions, fn)
		} else {
			*into = append(*into, instr)
		}
		if p.tok.kind == tokSemi {
			if err := p.advance(); err != nil {
				return err
			}
			continue
		}
		if p.atBlockEnd(topLevel) {
			return nil
		}
		return p.errorf("expected ';' between instructions")
	}
}

func (p *parser) parseInstrOrFunc() (instr Instruction, isFunc bool, fn Function, err error) {
	if p.tok.kind != tokWord || (len(p.tok.text) > 0 && isDigit(p.tok.text[0])) {
		err = p.errorf("expected instruction keyword")
		return
	}
	kw, pos := p.tok.text, p.tok.pos

	if kw == "FUNC" {
		isFunc = true
		fn, err = p.parseFunc()
		return
	}

	if err = p.advance(); err != nil {
		return
	}
	switch kw {
	case "INCLUDE", "INC":
		var name string
		if name, err = p.expectName(); err != nil {
			return
		}
		instr = Instruction{Op: OpInclude, Pos: pos, ModuleName: name}

	case "MOV":
		var val *Val
		var dst *Var
		if val, err = p.parseVal(); err != nil {
			return
		}
		if dst, err = p.parseVar(); err != nil {
			return
		}
		instr = Instruction{Op: OpMov, Pos: pos, Val: val, Var: dst}

	case "SWAP":
		var v1, v2 *Var
		if v1, err = p.parseVar(); err != nil {
			return
		}
		if v2, err = p.parseVar(); err != nil {
			return
		}
		instr = Instruction{Op: OpSwap, Pos: pos, Var: v1, Var2: v2}

	case "ADD", "SUB", "MUL", "DIV", "MOD":
		var dst *Var
		var val *Val
		if dst, err = p.parseVar(); err != nil {
			return
		}
		if val, err = p.parseVal(); err != nil {
			return
		}
		instr = Instruction{Op: arithOp(kw), Pos: pos, Var: dst, Val: val}

	case "LABEL:":
		// ':' isn't a delimiter, so the keyword lexes as the single word
		// "LABEL:", colon included.
		var name string
		if name, err = p.expectName(); err != nil {
			return
		}
		instr = Instruction{Op: OpLabel, Pos: pos, Label: name}

	case "JZ", "JNZ":
		var val *Val
		var label string
		if val, err = p.parseVal(); err != nil {
			return
		}
		if label, err = p.expectName(); err != nil {
			return
		}
		op := OpJz
		if kw == "JNZ" {
			op = OpJnz
		}
		instr = Instruction{Op: op, Pos: pos, Val: val, Label: label}

	case "CALL":
		var name string
		if name, err = p.expectName(); err != nil {
			return
		}
		var args []*Val
		var result *Var
		if args, result, err = p.parseCallTail(); err != nil {
			return
		}
		instr = Instruction{Op: OpCall, Pos: pos, CallName: name, Args: args, Result: result}

	case "RCALL":
		var name string
		if name, err = p.expectName(); err != nil {
			return
		}
		var result *Var
		if !p.atTerminator() {
			if result, err = p.parseVar(); err != nil {
				return
			}
		}
		instr = Instruction{Op: OpRCall, Pos: pos, CallName: name, Result: result}

	case "OUT":
		var val *Val
		if val, err = p.parseVal(); err != nil {
			return
		}
		instr = Instruction{Op: OpOut, Pos: pos, Val: val}

	case "NOP":
		instr = Instruction{Op: OpNop, Pos: pos}

	default:
		err = p.errorf("unknown instruction %q", kw)
	}
	return
}

// arithOp maps an ADD/SUB/MUL/DIV/MOD keyword to its Op.
func arithOp(kw string) Op {
	switch kw {
	case "ADD":
		return OpAdd
	case "SUB":
		return OpSub
	case "MUL":
		return OpMul
	case "DIV":
		return OpDiv
	default:
		return OpMod
	}
}

func (p *parser) atTerminator() bool {
	return p.tok.kind == tokSemi || p.tok.kind == tokEOF || p.tok.kind == tokRBrace
}

// parseCallTail parses the optional `(val (',' val)*)? var?` tail of a CALL.
// A literal (number/string) can never be the result, so it's always folded
// into args; the only true ambiguity the grammar leaves is a single bare
// var-syntax token with nothing around it, which this parser resolves as
// the call's sole argument rather than its result.
func (p *parser) parseCallTail() ([]*Val, *Var, error) {
	if p.atTerminator() {
		return nil, nil, nil
	}
	first, err := p.parseVal()
	if err != nil {
		return nil, nil, err
	}
	if p.tok.kind == tokComma {
		args := []*Val{first}
		for p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, nil, err
			}
			v, err := p.parseVal()
			if err != nil {
				return nil, nil, err
			}
			args = append(args, v)
		}
		if p.atTerminator() {
			return args, nil, nil
		}
		result, err := p.parseVar()
		if err != nil {
			return nil, nil, err
		}
		return args, result, nil
	}
	if p.atTerminator() {
		return []*Val{first}, nil, nil
	}
	result, err := p.parseVar()
	if err != nil {
		return nil, nil, err
	}
	return []*Val{first}, result, nil
}

func (p *parser) parseFunc() (Function, error) {
	if err := p.advance(); err != nil { // consume 'FUNC'
		return Function{}, err
	}
	name, err := p.expectName()
	if err != nil {
		return Function{}, err
	}
	if p.tok.kind != tokLBrace {
		return Function{}, p.errorf("expected '{' after FUNC %s", name)
	}
	if err := p.advance(); err != nil { // consume '{'
		return Function{}, err
	}
	var body []Instruction
	if err := p.parseBlock(&body, false); err != nil {
		return Function{}, err
	}
	if p.tok.kind != tokRBrace {
		return Function{}, p.errorf("expected '}' to close FUNC %s", name)
	}
	if err := p.advance(); err != nil { // consume '}'
		return Function{}, err
	}
	return Function{Name: name, Body: body}, nil
}

func (p *parser) parseVal() (*Val, error) {
	switch p.tok.kind {
	case tokAmp:
		v, err := p.parseVar()
		if err != nil {
			return nil, err
		}
		return &Val{Kind: ValVar, Var: v}, nil
	case tokString:
		s := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Val{Kind: ValStr, Str: s}, nil
	case tokWord:
		text, pos := p.tok.text, p.tok.pos
		if isDigit(text[0]) {
			n, err := parseNumber(text, pos)
			if err != nil {
				return nil, err
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &Val{Kind: ValWord, Word: n}, nil
		}
		v, err := p.parseVar()
		if err != nil {
			return nil, err
		}
		return &Val{Kind: ValVar, Var: v}, nil
	default:
		return nil, p.errorf("expected a value")
	}
}

func (p *parser) parseVar() (*Var, error) {
	if p.tok.kind == tokAmp {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseVal()
		if err != nil {
			return nil, err
		}
		return &Var{Kind: VarIndirect, Addr: inner}, nil
	}
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	return &Var{Kind: VarNamed, Name: name}, nil
}

func (p *parser) expectName() (string, error) {
	if p.tok.kind != tokWord || (len(p.tok.text) > 0 && isDigit(p.tok.text[0])) {
		return "", p.errorf("expected a name")
	}
	name := p.tok.text
	if err := p.advance(); err != nil {
		return "", err
	}
	return name, nil
}

// parseNumber decodes a `[1-9][_0-9]* | '0'` literal; '_' is a digit
// separator.
func parseNumber(text string, pos int) (uint64, error) {
	if text == "0" {
		return 0, nil
	}
	if text[0] < '1' || text[0] > '9' {
		return 0, &vm.ParseError{Offset: pos, Msg: "invalid number literal " + strconv.Quote(text)}
	}
	clean := strings.ReplaceAll(text, "_", "")
	n, err := strconv.ParseUint(clean, 10, 64)
	if err != nil {
		return 0, &vm.ParseError{Offset: pos, Msg: "invalid number literal " + strconv.Quote(text) + ": " + err.Error()}
	}
	return n, nil
}
