package proto

import (
	"math"
	"strconv"
	"strings"
)

// LineKind classifies one line of server output.
type LineKind int

const (
	LineEmpty LineKind = iota
	LineAck
	LineData
)

func (k LineKind) String() string {
	switch k {
	case LineAck:
		return "ack"
	case LineData:
		return "data"
	default:
		return "empty"
	}
}

// Classify reports whether a line is an acknowledgement, a data candidate or blank.
// Acknowledgements are exactly the lines starting with 'R'.
func Classify(line string) LineKind {
	if strings.TrimSpace(line) == "" {
		return LineEmpty
	}
	if line[0] == 'R' {
		return LineAck
	}
	return LineData
}

// Parser turns arbitrarily chunked socket reads into complete lines and decodes data lines.
// Text after the last line feed of a chunk is held back and prepended to the next chunk.
// A Parser is not safe for concurrent use.
type Parser struct {
	pending string
	arity   map[string]int
}

type ParserOption func(*Parser)

// WithArity overrides the payload size expected for one stream code.
func WithArity(code string, n int) ParserOption {
	return func(p *Parser) {
		p.arity[code] = n
	}
}

func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{arity: make(map[string]int, len(defaultArity))}
	for code, n := range defaultArity {
		p.arity[code] = n
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Feed appends a chunk to the pending text and returns every line completed by it,
// without their line feeds. Lines may be empty.
func (p *Parser) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	text := p.pending + string(chunk)
	last := strings.LastIndexByte(text, '\n')
	if last < 0 {
		p.pending = text
		return nil
	}
	p.pending = text[last+1:]
	return strings.Split(text[:last], "\n")
}

// Pending returns the partial line carried over to the next Feed.
func (p *Parser) Pending() string {
	return p.pending
}

func (p *Parser) Reset() {
	p.pending = ""
}

func (p *Parser) arityOf(code string) int {
	if n, ok := p.arity[code]; ok {
		return n
	}
	return DefaultArity
}

// Decode parses "<code> <timestamp> <v1> [v2 v3]" using the parser's arity table.
// Both ',' and '.' are accepted as decimal separator. Tokens beyond the arity are ignored.
func (p *Parser) Decode(line string) (Sample, error) {
	tokens := strings.Fields(line)
	if len(tokens) < 2 {
		return Sample{}, malformed(line, "missing timestamp")
	}
	ts, err := parseNumber(tokens[1])
	if err != nil {
		return Sample{}, malformed(line, "timestamp %q is not numeric", tokens[1])
	}

	code := tokens[0]
	n := p.arityOf(code)
	payload := tokens[2:]
	if len(payload) < n {
		return Sample{}, malformed(line, "%s expects %d values, got %d", code, n, len(payload))
	}

	values := make([]float64, n)
	for i := range n {
		v, err := parseNumber(payload[i])
		if err != nil {
			return Sample{}, malformed(line, "value %q is not numeric", payload[i])
		}
		values[i] = v
	}
	return Sample{Stream: code, Timestamp: ts, Values: values}, nil
}

var defaultParser = NewParser()

// DecodeData decodes a data line with the default arity table.
func DecodeData(line string) (Sample, error) {
	return defaultParser.Decode(line)
}

// parseNumber accepts plain decimal notation only; NaN, infinities and hex floats are rejected.
func parseNumber(tok string) (float64, error) {
	tok = strings.ReplaceAll(tok, ",", ".")
	if strings.IndexFunc(tok, notDecimal) >= 0 {
		return 0, strconv.ErrSyntax
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, strconv.ErrRange
	}
	return v, nil
}

func notDecimal(r rune) bool {
	return !strings.ContainsRune("0123456789+-.eE", r)
}
