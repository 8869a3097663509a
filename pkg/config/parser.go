package config

import "fmt"

// ParseError is a syntax error at a position in the input.
type ParseError struct {
	Line   int
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Msg)
}

// Parser builds a ConfigTree from configuration text.
type Parser struct {
	lex  *Lexer
	errs []error
}

// NewParser creates a parser for input.
func NewParser(input string) *Parser {
	return &Parser{lex: NewLexer(input)}
}

// Parse parses the whole input. It keeps going after a syntax error so that
// every error is reported in one pass.
func (p *Parser) Parse() (*ConfigTree, []error) {
	tree := &ConfigTree{Children: p.parseBlock(false)}
	return tree, p.errs
}

func (p *Parser) errorf(tok Token, format string, args ...any) {
	p.errs = append(p.errs, &ParseError{
		Line:   tok.Line,
		Column: tok.Column,
		Msg:    fmt.Sprintf(format, args...),
	})
}

func (p *Parser) parseBlock(nested bool) []*Node {
	nodes := []*Node{}
	for {
		tok := p.lex.Peek()
		switch tok.Type {
		case TokenEOF:
			if nested {
				p.errorf(tok, "unexpected EOF, missing '}'")
			}
			return nodes
		case TokenRBrace:
			p.lex.Next()
			if nested {
				return nodes
			}
			p.errorf(tok, "unexpected '}'")
		case TokenSemicolon:
			p.lex.Next()
		case TokenError:
			p.lex.Next()
			p.errorf(tok, "%s", tok.Value)
		default:
			nodes = append(nodes, p.parseStatement())
		}
	}
}

func (p *Parser) parseStatement() *Node {
	first := p.lex.Peek()
	n := &Node{Line: first.Line, Column: first.Column}
	for {
		tok := p.lex.Peek()
		switch tok.Type {
		case TokenIdentifier, TokenString:
			p.lex.Next()
			n.Keys = append(n.Keys, tok.Value)
		case TokenSemicolon:
			p.lex.Next()
			n.IsLeaf = true
			return n
		case TokenLBrace:
			p.lex.Next()
			if len(n.Keys) == 0 {
				p.errorf(tok, "block without a name")
			}
			n.Children = p.parseBlock(true)
			return n
		case TokenError:
			p.lex.Next()
			p.errorf(tok, "%s", tok.Value)
		default:
			// '}' or EOF: leave it for the enclosing block.
			p.errorf(tok, "expected ';' or '{' after %q, got %s", n.KeyPath(), tok.Type)
			n.IsLeaf = true
			return n
		}
	}
}
