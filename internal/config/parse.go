package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Load reads and parses the nginx-like configuration file at path.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	toks, err := tokenize(f)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	p := &parser{toks: toks}
	m, err := p.parseTop()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validate(m); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return m, nil
}

// token is either a bare word (directive name, value, brace) produced
// by splitting on whitespace and pulling `{`/`}`/`;` out as their own
// tokens even when glued to adjacent text.
type token struct {
	text string
	line int
}

func tokenize(f *os.File) ([]token, error) {
	var toks []token
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := removeComment(scanner.Text())
		for _, word := range splitWords(line) {
			toks = append(toks, token{text: word, line: lineNo})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return toks, nil
}

func removeComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		return line[:i]
	}
	return line
}

// splitWords breaks a line into directive words, treating `{`, `}`
// and `;` as standalone tokens even when not separated by whitespace
// (e.g. "localhost;" or "root /var/www;").
func splitWords(line string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range line {
		switch {
		case r == '{' || r == '}' || r == ';':
			flush()
			words = append(words, string(r))
		case r == ' ' || r == '\t' || r == '\r':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() (token, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

func (p *parser) expect(text string) error {
	t, ok := p.next()
	if !ok {
		return fmt.Errorf("unexpected end of file, expected %q", text)
	}
	if t.text != text {
		return fmt.Errorf("line %d: expected %q, got %q", t.line, text, t.text)
	}
	return nil
}

func (p *parser) parseTop() (*Model, error) {
	m := &Model{}
	for {
		t, ok := p.peek()
		if !ok {
			break
		}
		if t.text != "server" {
			return nil, fmt.Errorf("line %d: expected \"server\", got %q", t.line, t.text)
		}
		p.next()
		if err := p.expect("{"); err != nil {
			return nil, err
		}
		srv, err := p.parseServerBlock()
		if err != nil {
			return nil, err
		}
		m.Servers = append(m.Servers, *srv)
	}
	if len(m.Servers) == 0 {
		return nil, fmt.Errorf("no server blocks found")
	}
	return m, nil
}

func newServerRule() ServerRule {
	return ServerRule{
		Host:        "0.0.0.0",
		Port:        80,
		ErrorPages:  make(map[int]string),
		MaxBodySize: 1 << 20,
	}
}

func newLocationRule() LocationRule {
	return LocationRule{
		Methods: map[string]bool{"GET": true},
	}
}

func (p *parser) parseServerBlock() (*ServerRule, error) {
	srv := newServerRule()
	for {
		t, ok := p.next()
		if !ok {
			return nil, fmt.Errorf("unterminated server block")
		}
		switch t.text {
		case "}":
			return &srv, nil
		case "listen":
			val, err := p.readDirectiveValue()
			if err != nil {
				return nil, err
			}
			if err := applyListen(&srv, val); err != nil {
				return nil, fmt.Errorf("line %d: %w", t.line, err)
			}
		case "server_name":
			vals, err := p.readDirectiveValues()
			if err != nil {
				return nil, err
			}
			srv.ServerNames = append(srv.ServerNames, vals...)
		case "error_page":
			vals, err := p.readDirectiveValues()
			if err != nil {
				return nil, err
			}
			if len(vals) != 2 {
				return nil, fmt.Errorf("line %d: error_page requires CODE PATH", t.line)
			}
			code, err := strconv.Atoi(vals[0])
			if err != nil {
				return nil, fmt.Errorf("line %d: error_page: invalid code %q", t.line, vals[0])
			}
			srv.ErrorPages[code] = vals[1]
		case "client_max_body_size":
			val, err := p.readDirectiveValue()
			if err != nil {
				return nil, err
			}
			n, err := parseSize(val)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", t.line, err)
			}
			srv.MaxBodySize = n
		case "location":
			lt, ok := p.next()
			if !ok {
				return nil, fmt.Errorf("line %d: location requires a prefix", t.line)
			}
			if err := p.expect("{"); err != nil {
				return nil, err
			}
			loc, err := p.parseLocationBlock(lt.text)
			if err != nil {
				return nil, err
			}
			srv.Locations = append(srv.Locations, *loc)
		default:
			return nil, fmt.Errorf("line %d: unknown server directive %q", t.line, t.text)
		}
	}
}

func (p *parser) parseLocationBlock(prefix string) (*LocationRule, error) {
	loc := newLocationRule()
	loc.Prefix = prefix
	for {
		t, ok := p.next()
		if !ok {
			return nil, fmt.Errorf("unterminated location block")
		}
		switch t.text {
		case "}":
			return &loc, nil
		case "root":
			val, err := p.readDirectiveValue()
			if err != nil {
				return nil, err
			}
			loc.Root = val
		case "index":
			val, err := p.readDirectiveValue()
			if err != nil {
				return nil, err
			}
			loc.Index = val
		case "upload_dir":
			val, err := p.readDirectiveValue()
			if err != nil {
				return nil, err
			}
			loc.UploadDir = val
		case "cgi_extension":
			val, err := p.readDirectiveValue()
			if err != nil {
				return nil, err
			}
			loc.CGIExtension = val
		case "cgi_path":
			val, err := p.readDirectiveValue()
			if err != nil {
				return nil, err
			}
			loc.CGIPath = val
		case "autoindex":
			val, err := p.readDirectiveValue()
			if err != nil {
				return nil, err
			}
			loc.Autoindex = val == "on"
		case "allow_methods":
			vals, err := p.readDirectiveValues()
			if err != nil {
				return nil, err
			}
			loc.Methods = make(map[string]bool, len(vals))
			for _, v := range vals {
				loc.Methods[strings.ToUpper(v)] = true
			}
		case "return":
			vals, err := p.readDirectiveValues()
			if err != nil {
				return nil, err
			}
			if len(vals) != 2 {
				return nil, fmt.Errorf("line %d: return requires CODE URL", t.line)
			}
			code, err := strconv.Atoi(vals[0])
			if err != nil {
				return nil, fmt.Errorf("line %d: return: invalid code %q", t.line, vals[0])
			}
			loc.RedirectCode = code
			loc.RedirectTarget = vals[1]
		default:
			return nil, fmt.Errorf("line %d: unknown location directive %q", t.line, t.text)
		}
	}
}

// readDirectiveValue reads tokens up to the terminating ";" and joins
// them with a space, for directives that take one free-form value
// (e.g. a root path that happens to contain no spaces).
func (p *parser) readDirectiveValue() (string, error) {
	vals, err := p.readDirectiveValues()
	if err != nil {
		return "", err
	}
	return strings.Join(vals, " "), nil
}

// readDirectiveValues reads tokens up to the terminating ";" as a
// list, for directives with multiple space-separated arguments.
func (p *parser) readDirectiveValues() ([]string, error) {
	var vals []string
	for {
		t, ok := p.next()
		if !ok {
			return nil, fmt.Errorf("unexpected end of file in directive")
		}
		if t.text == ";" {
			return vals, nil
		}
		if t.text == "{" || t.text == "}" {
			return nil, fmt.Errorf("line %d: unexpected %q in directive", t.line, t.text)
		}
		vals = append(vals, t.text)
	}
}

func applyListen(srv *ServerRule, val string) error {
	if idx := strings.LastIndexByte(val, ':'); idx >= 0 {
		host := val[:idx]
		port, err := strconv.Atoi(val[idx+1:])
		if err != nil {
			return fmt.Errorf("listen: invalid port in %q", val)
		}
		srv.Host = host
		srv.Port = port
		return nil
	}
	port, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("listen: invalid value %q", val)
	}
	srv.Port = port
	return nil
}

// parseSize parses a byte-count directive value, accepting a bare
// decimal integer or one suffixed with K, M, or G (case-insensitive,
// base 1024).
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size value")
	}
	mul := int64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'k', 'K':
		mul = 1 << 10
		s = s[:len(s)-1]
	case 'm', 'M':
		mul = 1 << 20
		s = s[:len(s)-1]
	case 'g', 'G':
		mul = 1 << 30
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size value %q", s)
	}
	return n * mul, nil
}
