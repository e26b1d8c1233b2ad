package predicate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ---------------------------------------------------------------------------
// Public API
// ---------------------------------------------------------------------------

// Parse parses a rule predicate into a Node.
//
// Grammar:
//
//	expr       → or
//	or         → and ( "OR" and )*
//	and        → not ( "AND" not )*
//	not        → "NOT" not | "(" expr ")" | "TRUE" | "FALSE" | comparison
//	comparison → field "=" str
//	           | field "!=" str
//	           | field [ "NOT" ] "IN" "(" str { "," str } ")"
//	           | field "CONTAINS" str
//	           | field "STARTS" "WITH" str
//	           | field "ENDS" "WITH" str
//	           | field "MATCHES" str
//
// Strings are single quoted; a doubled quote escapes a quote. CONTAINS,
// STARTS WITH and ENDS WITH compare literally; MATCHES takes an RE2
// regular expression. Keywords are case insensitive.
func Parse(text string) (Node, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty predicate")
	}

	tokens, err := tokenize(text)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}

	p := &parser{tokens: tokens}
	node, err := p.parseExpression()
	if err != nil {
		return nil, err
	}

	// Ensure all tokens were consumed.
	if p.pos < len(p.tokens) {
		return nil, fmt.Errorf("unexpected token %q at position %d", p.tokens[p.pos].value, p.tokens[p.pos].pos)
	}
	return node, nil
}

// ---------------------------------------------------------------------------
// Token types
// ---------------------------------------------------------------------------

type tokenType int

const (
	tokIdentifier tokenType = iota
	tokString
	tokOperator // =, !=
	tokLParen
	tokRParen
	tokComma
	// Keywords (identifiers promoted to keywords during tokenization).
	tokAND
	tokOR
	tokNOT
	tokIN
	tokCONTAINS
	tokSTARTS
	tokENDS
	tokWITH
	tokMATCHES
	tokTRUE
	tokFALSE
)

type token struct {
	typ   tokenType
	value string // Original text (keywords uppercased).
	pos   int    // Byte offset in the input for error messages.
}

// keywords maps uppercased words to keyword token types.
var keywords = map[string]tokenType{
	"AND":      tokAND,
	"OR":       tokOR,
	"NOT":      tokNOT,
	"IN":       tokIN,
	"CONTAINS": tokCONTAINS,
	"STARTS":   tokSTARTS,
	"ENDS":     tokENDS,
	"WITH":     tokWITH,
	"MATCHES":  tokMATCHES,
	"TRUE":     tokTRUE,
	"FALSE":    tokFALSE,
}

// ---------------------------------------------------------------------------
// Tokenizer
// ---------------------------------------------------------------------------

func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0
	n := len(input)

	for i < n {
		if unicode.IsSpace(rune(input[i])) {
			i++
			continue
		}

		ch := input[i]

		switch ch {
		case '(':
			tokens = append(tokens, token{typ: tokLParen, value: "(", pos: i})
			i++
			continue
		case ')':
			tokens = append(tokens, token{typ: tokRParen, value: ")", pos: i})
			i++
			continue
		case ',':
			tokens = append(tokens, token{typ: tokComma, value: ",", pos: i})
			i++
			continue
		case '=':
			tokens = append(tokens, token{typ: tokOperator, value: "=", pos: i})
			i++
			continue
		}

		if ch == '!' {
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{typ: tokOperator, value: "!=", pos: i})
				i += 2
				continue
			}
			return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), i)
		}

		// Single-quoted string literal.
		if ch == '\'' {
			start := i
			i++ // skip opening quote
			var sb strings.Builder
			closed := false
			for i < n {
				if input[i] == '\'' {
					// Check for escaped quote ('').
					if i+1 < n && input[i+1] == '\'' {
						sb.WriteByte('\'')
						i += 2
						continue
					}
					i++ // skip closing quote
					closed = true
					break
				}
				sb.WriteByte(input[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string literal starting at position %d", start)
			}
			tokens = append(tokens, token{typ: tokString, value: sb.String(), pos: start})
			continue
		}

		// Identifier or keyword.
		if ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') {
			start := i
			for i < n && (input[i] == '_' || (input[i] >= 'a' && input[i] <= 'z') || (input[i] >= 'A' && input[i] <= 'Z') || (input[i] >= '0' && input[i] <= '9')) {
				i++
			}
			word := input[start:i]
			upper := strings.ToUpper(word)

			if kt, ok := keywords[upper]; ok {
				tokens = append(tokens, token{typ: kt, value: upper, pos: start})
			} else {
				tokens = append(tokens, token{typ: tokIdentifier, value: word, pos: start})
			}
			continue
		}

		return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), i)
	}

	return tokens, nil
}

// ---------------------------------------------------------------------------
// Parser (recursive descent)
// ---------------------------------------------------------------------------

type parser struct {
	tokens []token
	pos    int
}

// peek returns the current token without advancing, or nil if at EOF.
func (p *parser) peek() *token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	return &p.tokens[p.pos]
}

// advance moves to the next token and returns the consumed token.
func (p *parser) advance() *token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	t := &p.tokens[p.pos]
	p.pos++
	return t
}

// expect consumes the next token, requiring it to match the given type.
func (p *parser) expect(typ tokenType) (*token, error) {
	t := p.advance()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of predicate, expected %v", tokenTypeName(typ))
	}
	if t.typ != typ {
		return nil, fmt.Errorf("expected %v but got %q at position %d", tokenTypeName(typ), t.value, t.pos)
	}
	return t, nil
}

func (p *parser) parseExpression() (Node, error) {
	return p.parseOr()
}

// parseOr: or → and ( "OR" and )*
func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	var terms Or
	for {
		t := p.peek()
		if t == nil || t.typ != tokOR {
			break
		}
		p.advance()

		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if terms == nil {
			terms = Or{left}
		}
		terms = append(terms, right)
	}
	if terms != nil {
		return terms, nil
	}
	return left, nil
}

// parseAnd: and → not ( "AND" not )*
func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}

	var terms And
	for {
		t := p.peek()
		if t == nil || t.typ != tokAND {
			break
		}
		p.advance()

		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		if terms == nil {
			terms = And{left}
		}
		terms = append(terms, right)
	}
	if terms != nil {
		return terms, nil
	}
	return left, nil
}

// parseNot: not → "NOT" not | primary
func (p *parser) parseNot() (Node, error) {
	t := p.peek()
	if t != nil && t.typ == tokNOT {
		p.advance()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return Not{X: inner}, nil
	}
	return p.parsePrimary()
}

// parsePrimary: "(" expr ")" | TRUE | FALSE | comparison
func (p *parser) parsePrimary() (Node, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of predicate")
	}

	switch t.typ {
	case tokLParen:
		p.advance()
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	case tokTRUE:
		p.advance()
		return True, nil
	case tokFALSE:
		p.advance()
		return False, nil
	}

	return p.parseComparison()
}

// parseComparison handles every field comparison form.
func (p *parser) parseComparison() (Node, error) {
	fieldTok, err := p.expect(tokIdentifier)
	if err != nil {
		return nil, fmt.Errorf("expected field name: %w", err)
	}
	if err := ValidateField(fieldTok.value); err != nil {
		return nil, err
	}
	field := fieldTok.value

	opTok := p.peek()
	if opTok == nil {
		return nil, fmt.Errorf("unexpected end of predicate after field %q", field)
	}

	switch opTok.typ {
	case tokOperator:
		p.advance()
		val, err := p.parseString()
		if err != nil {
			return nil, fmt.Errorf("expected value after %s %s: %w", field, opTok.value, err)
		}
		if opTok.value == "!=" {
			return Not{X: Eq{Field: field, Value: val}}, nil
		}
		return Eq{Field: field, Value: val}, nil

	case tokNOT:
		p.advance()
		next := p.peek()
		if next == nil || next.typ != tokIN {
			return nil, fmt.Errorf("expected IN after %s NOT", field)
		}
		in, err := p.parseInList(field)
		if err != nil {
			return nil, err
		}
		return Not{X: in}, nil

	case tokIN:
		return p.parseInList(field)

	case tokCONTAINS:
		p.advance()
		val, err := p.parseString()
		if err != nil {
			return nil, fmt.Errorf("expected value after %s CONTAINS: %w", field, err)
		}
		return Match{Field: field, Pattern: regexp.MustCompile(regexp.QuoteMeta(val))}, nil

	case tokSTARTS, tokENDS:
		p.advance()
		if _, err := p.expect(tokWITH); err != nil {
			return nil, fmt.Errorf("expected WITH after %s %s: %w", field, opTok.value, err)
		}
		val, err := p.parseString()
		if err != nil {
			return nil, fmt.Errorf("expected value after %s %s WITH: %w", field, opTok.value, err)
		}
		pattern := "^" + regexp.QuoteMeta(val)
		if opTok.typ == tokENDS {
			pattern = regexp.QuoteMeta(val) + "$"
		}
		return Match{Field: field, Pattern: regexp.MustCompile(pattern)}, nil

	case tokMATCHES:
		p.advance()
		val, err := p.parseString()
		if err != nil {
			return nil, fmt.Errorf("expected pattern after %s MATCHES: %w", field, err)
		}
		re, err := regexp.Compile(val)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern for %s: %w", field, err)
		}
		return Match{Field: field, Pattern: re}, nil

	default:
		return nil, fmt.Errorf("unexpected token %q after field %q at position %d", opTok.value, field, opTok.pos)
	}
}

// parseInList: IN (str, str, ...)
// The caller already matched the field; this consumes "IN (" through ")".
func (p *parser) parseInList(field string) (Node, error) {
	p.advance() // consume IN

	if _, err := p.expect(tokLParen); err != nil {
		return nil, fmt.Errorf("expected '(' after %s IN: %w", field, err)
	}

	var values []string
	for {
		val, err := p.parseString()
		if err != nil {
			return nil, fmt.Errorf("expected value in %s IN list: %w", field, err)
		}
		values = append(values, val)

		next := p.peek()
		if next == nil {
			return nil, fmt.Errorf("unexpected end of predicate in %s IN list", field)
		}
		if next.typ == tokComma {
			p.advance()
			continue
		}
		if next.typ == tokRParen {
			p.advance()
			break
		}
		return nil, fmt.Errorf("expected ',' or ')' in %s IN list, got %q", field, next.value)
	}

	return In{Field: field, Values: values}, nil
}

// parseString consumes and returns the next string literal.
func (p *parser) parseString() (string, error) {
	t := p.advance()
	if t == nil {
		return "", fmt.Errorf("unexpected end of predicate, expected a string")
	}
	if t.typ != tokString {
		return "", fmt.Errorf("expected a quoted string, got %q at position %d", t.value, t.pos)
	}
	return t.value, nil
}

// tokenTypeName returns a human-readable name for a token type (for errors).
func tokenTypeName(t tokenType) string {
	switch t {
	case tokIdentifier:
		return "identifier"
	case tokString:
		return "string"
	case tokOperator:
		return "operator"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokComma:
		return "','"
	case tokAND:
		return "AND"
	case tokOR:
		return "OR"
	case tokNOT:
		return "NOT"
	case tokIN:
		return "IN"
	case tokCONTAINS:
		return "CONTAINS"
	case tokSTARTS:
		return "STARTS"
	case tokENDS:
		return "ENDS"
	case tokWITH:
		return "WITH"
	case tokMATCHES:
		return "MATCHES"
	case tokTRUE:
		return "TRUE"
	case tokFALSE:
		return "FALSE"
	default:
		return fmt.Sprintf("token(%d)", t)
	}
}
