package parser

// Options configures a Parser.
type Options struct {
	TimeFormat      string
	AcceptedMethods []string
	Extensions      []string
}

// Parser turns access log lines into records: Tokenize, Normalize, Build.
type Parser struct {
	norm *Normalizer
	keep []string
}

// New returns a Parser. An empty TimeFormat uses the Apache default.
func New(opts Options) *Parser {
	layout := opts.TimeFormat
	if layout == "" {
		layout = "02/Jan/2006:15:04:05 -0700"
	}
	return &Parser{
		norm: NewNormalizer(layout, opts.AcceptedMethods),
		keep: opts.Extensions,
	}
}

// Parse returns the record for line, or a *TokenizeError or *RejectError.
func (p *Parser) Parse(line string) (*LogRecord, error) {
	toks, err := Tokenize(line)
	if err != nil {
		return nil, err
	}

	fields, ferrs := p.norm.Normalize(toks)
	rec, rejected := Build(fields, ferrs, p.keep)
	if rec == nil {
		return nil, &RejectError{Errors: rejected}
	}
	return rec, nil
}
