// Package ledger — formula.go реализует вычислитель формулы уровня.
//
// Формула задаётся администратором строкой, например:
//
//	floor(sqrt(total_earned / 100)) + 1
//
// Грамматика намеренно жёсткая: + - * / ( ), функции sqrt и floor,
// единственная переменная total_earned. Никакого общего интерпретатора —
// только арифметика. Некорректная формула откатывается на запасную
// линейную, результат всегда ограничен снизу единицей.
package ledger

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Formula — скомпилированная формула уровня.
type Formula struct {
	root node
	src  string
}

// node — узел разобранного выражения.
type node interface {
	eval(totalEarned float64) (float64, error)
}

type numberNode float64

func (n numberNode) eval(float64) (float64, error) { return float64(n), nil }

type varNode struct{}

func (varNode) eval(totalEarned float64) (float64, error) { return totalEarned, nil }

type unaryNode struct {
	op  byte // только '-'
	arg node
}

func (n unaryNode) eval(totalEarned float64) (float64, error) {
	v, err := n.arg.eval(totalEarned)
	if err != nil {
		return 0, err
	}
	return -v, nil
}

type binaryNode struct {
	op          byte // '+', '-', '*', '/'
	left, right node
}

func (n binaryNode) eval(totalEarned float64) (float64, error) {
	l, err := n.left.eval(totalEarned)
	if err != nil {
		return 0, err
	}
	r, err := n.right.eval(totalEarned)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	case '/':
		if r == 0 {
			return 0, fmt.Errorf("деление на ноль")
		}
		return l / r, nil
	}
	return 0, fmt.Errorf("неизвестный оператор %q", n.op)
}

type callNode struct {
	fn  string // "sqrt" или "floor"
	arg node
}

func (n callNode) eval(totalEarned float64) (float64, error) {
	v, err := n.arg.eval(totalEarned)
	if err != nil {
		return 0, err
	}
	switch n.fn {
	case "sqrt":
		if v < 0 {
			return 0, fmt.Errorf("sqrt от отрицательного числа")
		}
		return math.Sqrt(v), nil
	case "floor":
		return math.Floor(v), nil
	}
	return 0, fmt.Errorf("неизвестная функция %q", n.fn)
}

// ParseFormula компилирует строку формулы.
func ParseFormula(src string) (*Formula, error) {
	p := &parser{input: src}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpaces()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("лишние символы с позиции %d", p.pos)
	}
	return &Formula{root: root, src: src}, nil
}

// Eval вычисляет уровень для накопленного total_earned.
// Ошибки вычисления (деление на ноль, NaN, переполнение) возвращаются
// вызывающей стороне — та решает, что делать с запасной формулой.
func (f *Formula) Eval(totalEarned int64) (int, error) {
	v, err := f.root.eval(float64(totalEarned))
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("результат формулы не число: %v", v)
	}
	return int(v), nil
}

// String возвращает исходный текст формулы.
func (f *Formula) String() string { return f.src }

// parser — рекурсивный спуск по грамматике:
//
//	expr   := term (('+' | '-') term)*
//	term   := unary (('*' | '/') unary)*
//	unary  := '-' unary | primary
//	primary:= number | 'total_earned' | fn '(' expr ')' | '(' expr ')'
type parser struct {
	input string
	pos   int
}

func (p *parser) skipSpaces() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpaces()
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpaces()
		op := p.peek()
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	p.skipSpaces()
	if p.peek() == '-' {
		p.pos++
		arg, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: '-', arg: arg}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	p.skipSpaces()
	c := p.peek()

	switch {
	case c == '(':
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		p.skipSpaces()
		if p.peek() != ')' {
			return nil, fmt.Errorf("ожидалась ')' на позиции %d", p.pos)
		}
		p.pos++
		return inner, nil

	case c >= '0' && c <= '9' || c == '.':
		start := p.pos
		for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
			p.pos++
		}
		v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
		if err != nil {
			return nil, fmt.Errorf("некорректное число %q", p.input[start:p.pos])
		}
		return numberNode(v), nil

	case unicode.IsLetter(rune(c)) || c == '_':
		start := p.pos
		for p.pos < len(p.input) {
			ch := rune(p.input[p.pos])
			if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '_' {
				break
			}
			p.pos++
		}
		ident := strings.ToLower(p.input[start:p.pos])
		switch ident {
		case "total_earned":
			return varNode{}, nil
		case "sqrt", "floor":
			p.skipSpaces()
			if p.peek() != '(' {
				return nil, fmt.Errorf("после %s ожидалась '('", ident)
			}
			p.pos++
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			p.skipSpaces()
			if p.peek() != ')' {
				return nil, fmt.Errorf("незакрытая скобка вызова %s", ident)
			}
			p.pos++
			return callNode{fn: ident, arg: arg}, nil
		default:
			return nil, fmt.Errorf("неизвестный идентификатор %q", ident)
		}
	}

	return nil, fmt.Errorf("неожиданный символ на позиции %d", p.pos)
}

// fallbackLevel — запасная линейная формула: каждый заработанный
// килобеситос даёт уровень. Используется при некорректной формуле.
func fallbackLevel(totalEarned int64) int {
	return int(totalEarned/1000) + 1
}

// clampLevel ограничивает уровень снизу единицей.
func clampLevel(level int) int {
	if level < 1 {
		return 1
	}
	return level
}
