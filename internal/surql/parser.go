package surql

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IDGenerator asks the engine to generate a record id, as in person:uuid().
type IDGenerator string

// Parse splits src into statements and parses each one.
func Parse(src string) ([]Statement, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	var out []Statement
	for _, part := range split(toks) {
		if len(part) == 0 {
			continue
		}
		p := &parser{src: src, toks: part}
		stmt, err := p.statement()
		if err != nil {
			return nil, err
		}
		if !p.eof() {
			return nil, p.errorf("unexpected %q", p.peek().text)
		}
		out = append(out, stmt)
	}
	return out, nil
}

// split cuts toks on semicolons outside brackets.
func split(toks []token) [][]token {
	var (
		out   [][]token
		depth int
		start int
	)
	for i, t := range toks {
		if t.kind != tokPunct {
			continue
		}
		switch t.text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
		case ";":
			if depth == 0 {
				out = append(out, toks[start:i])
				start = i + 1
			}
		}
	}
	return append(out, toks[start:])
}

type parser struct {
	src  string
	toks []token
	i    int
}

func (p *parser) eof() bool { return p.i >= len(p.toks) }

func (p *parser) peekAt(n int) token {
	if p.i+n >= len(p.toks) {
		return token{kind: tokEOF, pos: len(p.src), end: len(p.src)}
	}
	return p.toks[p.i+n]
}

func (p *parser) peek() token { return p.peekAt(0) }

func (p *parser) next() token {
	t := p.peek()
	if !p.eof() {
		p.i++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	near := p.src
	if len(p.toks) > 0 {
		near = p.src[p.toks[0].pos:p.toks[len(p.toks)-1].end]
	}
	return fmt.Errorf("%w: %s in %q", ErrParse, fmt.Sprintf(format, args...), near)
}

func (p *parser) accept(kw ...string) bool {
	if p.peek().keyword(kw...) {
		p.i++
		return true
	}
	return false
}

func (p *parser) acceptPunct(text string) bool {
	if p.peek().is(tokPunct, text) {
		p.i++
		return true
	}
	return false
}

func (p *parser) expect(kw ...string) error {
	if !p.accept(kw...) {
		return p.errorf("expected %s", strings.Join(kw, " or "))
	}
	return nil
}

func (p *parser) expectPunct(text string) error {
	if !p.acceptPunct(text) {
		return p.errorf("expected %q", text)
	}
	return nil
}

// name reads an identifier, a quoted identifier or a string.
func (p *parser) name() (string, error) {
	t := p.peek()
	switch t.kind {
	case tokIdent, tokQuoted, tokString:
		p.i++
		return t.val, nil
	}
	return "", p.errorf("expected a name")
}

func (p *parser) stringLit() (string, error) {
	t := p.peek()
	if t.kind != tokString {
		return "", p.errorf("expected a string")
	}
	p.i++
	return t.val, nil
}

func (p *parser) duration() (time.Duration, error) {
	t := p.next()
	if t.keyword("NONE") {
		return 0, nil
	}
	if t.kind != tokDuration {
		return 0, p.errorf("expected a duration")
	}
	return ParseDuration(t.text)
}

// exprUntil consumes tokens up to the first top-level stop keyword (or
// comma, when commas is set) and returns them as an expression.
func (p *parser) exprUntil(commas bool, stops ...string) (*Expr, error) {
	start := p.i
	depth := 0
	for !p.eof() {
		t := p.peek()
		if t.kind == tokPunct {
			switch t.text {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
			}
		}
		if depth == 0 && (t.keyword(stops...) || commas && t.is(tokPunct, ",")) {
			break
		}
		if depth < 0 {
			break
		}
		p.i++
	}
	if p.i == start {
		return nil, p.errorf("expected an expression")
	}
	first, last := p.toks[start], p.toks[p.i-1]
	return NewExpr(p.src[first.pos:last.end]), nil
}

// block consumes a parenthesized group and returns its inner source.
func (p *parser) block() (string, error) {
	open := p.peek()
	if !open.is(tokPunct, "(") {
		return "", p.errorf("expected \"(\"")
	}
	depth := 0
	for !p.eof() {
		t := p.next()
		if t.kind != tokPunct {
			continue
		}
		switch t.text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
			if depth == 0 {
				return p.src[open.end:t.pos], nil
			}
		}
	}
	return "", p.errorf("unbalanced parentheses")
}

// skipClause drops tokens up to the next top-level stop keyword.
func (p *parser) skipClause(stops ...string) {
	if p.eof() {
		return
	}
	_, _ = p.exprUntil(false, stops...)
}

func (p *parser) statement() (Statement, error) {
	t := p.peek()
	switch {
	case t.keyword("USE"):
		p.next()
		return p.use()
	case t.keyword("LET"):
		p.next()
		return p.let()
	case t.keyword("RETURN"):
		p.next()
		e, err := p.exprUntil(false)
		if err != nil {
			return nil, err
		}
		return ReturnStatement{Value: e}, nil
	case t.keyword("BEGIN"):
		p.next()
		p.accept("TRANSACTION")
		return BeginStatement{}, nil
	case t.keyword("COMMIT"):
		p.next()
		p.accept("TRANSACTION")
		return CommitStatement{}, nil
	case t.keyword("CANCEL"):
		p.next()
		p.accept("TRANSACTION")
		return CancelStatement{}, nil
	case t.keyword("DEFINE"):
		p.next()
		return p.define()
	case t.keyword("REMOVE"):
		p.next()
		return p.remove()
	case t.keyword("INFO"):
		p.next()
		return p.info()
	case t.keyword("CREATE"):
		p.next()
		return p.create()
	case t.keyword("INSERT"):
		p.next()
		return p.insert()
	case t.keyword("SELECT"):
		p.next()
		return p.selectStatement()
	case t.keyword("UPDATE", "UPSERT"):
		p.next()
		return p.update(t.keyword("UPSERT"))
	case t.keyword("DELETE"):
		p.next()
		return p.delete()
	case t.keyword("LIVE", "KILL", "RELATE", "FOR", "IF", "THROW", "SLEEP", "SHOW", "REBUILD", "ALTER"):
		return nil, p.errorf("%s statements are not supported", strings.ToUpper(t.text))
	}
	e, err := p.exprUntil(false)
	if err != nil {
		return nil, err
	}
	return ExprStatement{Value: e}, nil
}

func (p *parser) use() (Statement, error) {
	var s UseStatement
	for !p.eof() {
		switch {
		case p.accept("NS", "NAMESPACE"):
			n, err := p.name()
			if err != nil {
				return nil, err
			}
			s.NS = n
		case p.accept("DB", "DATABASE"):
			n, err := p.name()
			if err != nil {
				return nil, err
			}
			s.DB = n
		default:
			return nil, p.errorf("expected NS or DB")
		}
	}
	if s.NS == "" && s.DB == "" {
		return nil, p.errorf("expected NS or DB")
	}
	return s, nil
}

func (p *parser) let() (Statement, error) {
	t := p.next()
	if t.kind != tokParam {
		return nil, p.errorf("expected a $parameter")
	}
	if err := p.expectPunct("="); err != nil {
		return nil, err
	}
	e, err := p.exprUntil(false)
	if err != nil {
		return nil, err
	}
	return LetStatement{Name: t.val, Value: e}, nil
}

// ifClause reads IF NOT EXISTS or OVERWRITE.
func (p *parser) ifClause() (ifNotExists, overwrite bool, err error) {
	switch {
	case p.accept("IF"):
		if err := p.expect("NOT"); err != nil {
			return false, false, err
		}
		if err := p.expect("EXISTS"); err != nil {
			return false, false, err
		}
		return true, false, nil
	case p.accept("OVERWRITE"):
		return false, true, nil
	}
	return false, false, nil
}

func (p *parser) level() (Level, error) {
	switch {
	case p.accept("ROOT", "KV"):
		return LevelRoot, nil
	case p.accept("NS", "NAMESPACE"):
		return LevelNamespace, nil
	case p.accept("DB", "DATABASE"):
		return LevelDatabase, nil
	}
	return "", p.errorf("expected ROOT, NAMESPACE or DATABASE")
}

func (p *parser) define() (Statement, error) {
	switch {
	case p.accept("NS", "NAMESPACE"):
		ine, ow, err := p.ifClause()
		if err != nil {
			return nil, err
		}
		n, err := p.name()
		if err != nil {
			return nil, err
		}
		p.skipClause()
		return DefineNamespaceStatement{Name: n, IfNotExists: ine, Overwrite: ow}, nil
	case p.accept("DB", "DATABASE"):
		ine, ow, err := p.ifClause()
		if err != nil {
			return nil, err
		}
		n, err := p.name()
		if err != nil {
			return nil, err
		}
		p.skipClause()
		return DefineDatabaseStatement{Name: n, IfNotExists: ine, Overwrite: ow}, nil
	case p.accept("TABLE"):
		return p.defineTable()
	case p.accept("USER"):
		return p.defineUser()
	case p.accept("ACCESS"):
		return p.defineAccess()
	case p.accept("SCOPE"):
		return p.defineScope()
	}
	return nil, p.errorf("unsupported definition %q", p.peek().text)
}

func (p *parser) defineTable() (Statement, error) {
	ine, ow, err := p.ifClause()
	if err != nil {
		return nil, err
	}
	n, err := p.name()
	if err != nil {
		return nil, err
	}
	s := DefineTableStatement{Name: n, IfNotExists: ine, Overwrite: ow}
	for !p.eof() {
		switch {
		case p.accept("SCHEMAFULL", "SCHEMAFUL"):
			s.Schemafull = true
		case p.accept("SCHEMALESS"):
			s.Schemafull = false
		case p.accept("DROP"):
			s.Drop = true
		default:
			// TYPE, PERMISSIONS, CHANGEFEED and COMMENT are accepted and ignored.
			p.next()
		}
	}
	return s, nil
}

func (p *parser) defineUser() (Statement, error) {
	ine, ow, err := p.ifClause()
	if err != nil {
		return nil, err
	}
	n, err := p.name()
	if err != nil {
		return nil, err
	}
	if err := p.expect("ON"); err != nil {
		return nil, err
	}
	base, err := p.level()
	if err != nil {
		return nil, err
	}
	s := DefineUserStatement{Name: n, Base: base, IfNotExists: ine, Overwrite: ow}
	for !p.eof() {
		switch {
		case p.accept("PASSWORD"):
			if s.Password, err = p.stringLit(); err != nil {
				return nil, err
			}
		case p.accept("PASSHASH"):
			if s.Passhash, err = p.stringLit(); err != nil {
				return nil, err
			}
		case p.accept("ROLES"):
			for {
				r, err := p.name()
				if err != nil {
					return nil, err
				}
				s.Roles = append(s.Roles, strings.ToUpper(r[:1])+strings.ToLower(r[1:]))
				if !p.acceptPunct(",") {
					break
				}
			}
		case p.accept("DURATION"):
			tok, sess, err := p.durations()
			if err != nil {
				return nil, err
			}
			s.Token, s.Session = tok, sess
		case p.accept("COMMENT"):
			if _, err := p.stringLit(); err != nil {
				return nil, err
			}
		default:
			return nil, p.errorf("unexpected %q in DEFINE USER", p.peek().text)
		}
	}
	if s.Password == "" && s.Passhash == "" {
		return nil, p.errorf("DEFINE USER needs PASSWORD or PASSHASH")
	}
	if len(s.Roles) == 0 {
		s.Roles = []string{"Viewer"}
	}
	return s, nil
}

// durations reads FOR TOKEN d and FOR SESSION d, in either order.
func (p *parser) durations() (tok, sess time.Duration, err error) {
	for p.accept("FOR") {
		switch {
		case p.accept("TOKEN"):
			if tok, err = p.duration(); err != nil {
				return 0, 0, err
			}
		case p.accept("SESSION"):
			if sess, err = p.duration(); err != nil {
				return 0, 0, err
			}
		default:
			return 0, 0, p.errorf("expected TOKEN or SESSION")
		}
		if !p.acceptPunct(",") {
			break
		}
	}
	return tok, sess, nil
}

func (p *parser) defineAccess() (Statement, error) {
	start := p.peek().pos
	ine, ow, err := p.ifClause()
	if err != nil {
		return nil, err
	}
	n, err := p.name()
	if err != nil {
		return nil, err
	}
	if err := p.expect("ON"); err != nil {
		return nil, err
	}
	base, err := p.level()
	if err != nil {
		return nil, err
	}
	if base != LevelDatabase {
		return nil, p.errorf("record access must be defined ON DATABASE")
	}
	if err := p.expect("TYPE"); err != nil {
		return nil, err
	}
	if err := p.expect("RECORD"); err != nil {
		return nil, p.errorf("only TYPE RECORD access is supported")
	}
	s := DefineAccessStatement{Name: n, Base: base, IfNotExists: ine, Overwrite: ow}
	for !p.eof() {
		switch {
		case p.accept("SIGNUP"):
			if s.Signup, err = p.subStatement(); err != nil {
				return nil, err
			}
		case p.accept("SIGNIN"):
			if s.Signin, err = p.subStatement(); err != nil {
				return nil, err
			}
		case p.accept("DURATION"):
			tok, sess, err := p.durations()
			if err != nil {
				return nil, err
			}
			s.Token, s.Session = tok, sess
		case p.accept("COMMENT"):
			if _, err := p.stringLit(); err != nil {
				return nil, err
			}
		case p.accept("WITH"):
			return nil, p.errorf("custom JWT configuration is not supported")
		default:
			return nil, p.errorf("unexpected %q in DEFINE ACCESS", p.peek().text)
		}
	}
	s.Source = "DEFINE ACCESS " + p.src[start:p.toks[len(p.toks)-1].end]
	return s, nil
}

func (p *parser) defineScope() (Statement, error) {
	start := p.peek().pos
	n, err := p.name()
	if err != nil {
		return nil, err
	}
	s := DefineAccessStatement{Name: n, Base: LevelDatabase}
	for !p.eof() {
		switch {
		case p.accept("SESSION"):
			if s.Session, err = p.duration(); err != nil {
				return nil, err
			}
		case p.accept("SIGNUP"):
			if s.Signup, err = p.subStatement(); err != nil {
				return nil, err
			}
		case p.accept("SIGNIN"):
			if s.Signin, err = p.subStatement(); err != nil {
				return nil, err
			}
		case p.accept("COMMENT"):
			if _, err := p.stringLit(); err != nil {
				return nil, err
			}
		default:
			return nil, p.errorf("unexpected %q in DEFINE SCOPE", p.peek().text)
		}
	}
	s.Source = "DEFINE SCOPE " + p.src[start:p.toks[len(p.toks)-1].end]
	return s, nil
}

// subStatement parses a parenthesized statement such as a SIGNUP body.
func (p *parser) subStatement() (Statement, error) {
	inner, err := p.block()
	if err != nil {
		return nil, err
	}
	stmts, err := Parse(inner)
	if err != nil {
		return nil, err
	}
	if len(stmts) != 1 {
		return nil, p.errorf("expected exactly one statement in block")
	}
	return stmts[0], nil
}

func (p *parser) remove() (Statement, error) {
	var kind string
	switch {
	case p.accept("NS", "NAMESPACE"):
		kind = "namespace"
	case p.accept("DB", "DATABASE"):
		kind = "database"
	case p.accept("TABLE"):
		kind = "table"
	case p.accept("USER"):
		kind = "user"
	case p.accept("ACCESS", "SCOPE"):
		kind = "access"
	default:
		return nil, p.errorf("unsupported REMOVE %q", p.peek().text)
	}
	s := RemoveStatement{Kind: kind}
	if p.accept("IF") {
		if err := p.expect("EXISTS"); err != nil {
			return nil, err
		}
		s.IfExists = true
	}
	n, err := p.name()
	if err != nil {
		return nil, err
	}
	s.Name = n
	if p.accept("ON") {
		if s.Base, err = p.level(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (p *parser) info() (Statement, error) {
	if err := p.expect("FOR"); err != nil {
		return nil, err
	}
	switch {
	case p.accept("ROOT", "KV"):
		return InfoStatement{Level: LevelRoot}, nil
	case p.accept("NS", "NAMESPACE"):
		return InfoStatement{Level: LevelNamespace}, nil
	case p.accept("DB", "DATABASE"):
		return InfoStatement{Level: LevelDatabase}, nil
	case p.accept("TABLE", "TB"):
		n, err := p.name()
		if err != nil {
			return nil, err
		}
		return InfoStatement{Level: "TABLE", Table: n}, nil
	}
	return nil, p.errorf("expected ROOT, NS, DB or TABLE")
}

var writeStops = []string{"CONTENT", "SET", "MERGE", "REPLACE", "UNSET", "WHERE", "RETURN", "TIMEOUT", "PARALLEL"}

// target reads a table, record id, |tb:N| range or expression.
func (p *parser) target(stops ...string) (Target, error) {
	t := p.peek()
	if t.is(tokPunct, "|") {
		p.next()
		tb, err := p.name()
		if err != nil {
			return Target{}, err
		}
		if err := p.expectPunct(":"); err != nil {
			return Target{}, err
		}
		num := p.next()
		if num.kind != tokNumber {
			return Target{}, p.errorf("expected a record count")
		}
		n, err := strconv.Atoi(strings.ReplaceAll(num.text, "_", ""))
		if err != nil || n < 0 {
			return Target{}, p.errorf("invalid record count %q", num.text)
		}
		if err := p.expectPunct("|"); err != nil {
			return Target{}, err
		}
		return Target{Table: tb, Count: n}, nil
	}

	if t.kind == tokIdent || t.kind == tokQuoted {
		n1 := p.peekAt(1)
		atEnd := func(k int) bool {
			nt := p.peekAt(k)
			return nt.kind == tokEOF || nt.is(tokPunct, ",") || nt.keyword(stops...)
		}
		switch {
		case n1.is(tokPunct, ":") && !n1.space:
			idTok := p.peekAt(2)
			if idTok.space {
				break
			}
			var (
				id   any
				used = 3
			)
			switch idTok.kind {
			case tokNumber:
				n, err := strconv.ParseInt(strings.ReplaceAll(idTok.text, "_", ""), 10, 64)
				if err != nil {
					return Target{}, p.errorf("invalid record id %q", idTok.text)
				}
				id = n
			case tokIdent:
				if p.peekAt(3).is(tokPunct, "(") && p.peekAt(4).is(tokPunct, ")") {
					switch strings.ToLower(idTok.text) {
					case "uuid", "rand", "ulid":
						id = IDGenerator(strings.ToLower(idTok.text))
						used = 5
					default:
						return Target{}, p.errorf("unknown id generator %q", idTok.text)
					}
				} else {
					id = idTok.val
				}
			case tokQuoted, tokString:
				id = idTok.val
			default:
				return Target{}, p.errorf("unsupported record id %q", idTok.text)
			}
			if atEnd(used) {
				p.i += used
				return Target{Table: t.val, ID: id, HasID: true}, nil
			}
		case atEnd(1):
			p.next()
			return Target{Table: t.val}, nil
		}
	}

	e, err := p.exprUntil(true, stops...)
	if err != nil {
		return Target{}, err
	}
	return Target{Expr: e}, nil
}

func (p *parser) data(stops ...string) (Data, error) {
	switch {
	case p.accept("CONTENT"):
		e, err := p.exprUntil(false, stops...)
		return Data{Kind: DataContent, Value: e}, err
	case p.accept("MERGE"):
		e, err := p.exprUntil(false, stops...)
		return Data{Kind: DataMerge, Value: e}, err
	case p.accept("REPLACE"):
		e, err := p.exprUntil(false, stops...)
		return Data{Kind: DataReplace, Value: e}, err
	case p.accept("SET"):
		var d Data
		d.Kind = DataSet
		for {
			field, err := p.fieldPath()
			if err != nil {
				return Data{}, err
			}
			op := p.next()
			if op.kind != tokPunct || (op.text != "=" && op.text != "+=" && op.text != "-=") {
				return Data{}, p.errorf("expected =, += or -= after %s", field)
			}
			e, err := p.exprUntil(true, stops...)
			if err != nil {
				return Data{}, err
			}
			d.Sets = append(d.Sets, Assignment{Field: field, Op: op.text, Value: e})
			if !p.acceptPunct(",") {
				return d, nil
			}
		}
	}
	return Data{}, nil
}

// fieldPath reads a dotted field name such as address.city.
func (p *parser) fieldPath() (string, error) {
	first, err := p.name()
	if err != nil {
		return "", err
	}
	parts := []string{first}
	for p.peek().is(tokPunct, ".") {
		p.next()
		n, err := p.name()
		if err != nil {
			return "", err
		}
		parts = append(parts, n)
	}
	return strings.Join(parts, "."), nil
}

func (p *parser) returnClause() (ReturnKind, error) {
	if !p.accept("RETURN") {
		return ReturnDefault, nil
	}
	switch {
	case p.accept("NONE"):
		return ReturnNone, nil
	case p.accept("BEFORE"):
		return ReturnBefore, nil
	case p.accept("AFTER"):
		return ReturnAfter, nil
	case p.accept("DIFF"):
		return ReturnDiff, nil
	}
	return ReturnDefault, p.errorf("expected NONE, BEFORE, AFTER or DIFF after RETURN")
}

// trailing drops TIMEOUT and PARALLEL clauses, which have no effect here.
func (p *parser) trailing() error {
	for !p.eof() {
		switch {
		case p.accept("TIMEOUT"):
			if _, err := p.duration(); err != nil {
				return err
			}
		case p.accept("PARALLEL"):
		default:
			return nil
		}
	}
	return nil
}

func (p *parser) create() (Statement, error) {
	var s CreateStatement
	s.Only = p.accept("ONLY")
	t, err := p.target(writeStops...)
	if err != nil {
		return nil, err
	}
	s.Target = t
	if s.Data, err = p.data(writeStops...); err != nil {
		return nil, err
	}
	if s.Return, err = p.returnClause(); err != nil {
		return nil, err
	}
	return s, p.trailing()
}

func (p *parser) insert() (Statement, error) {
	var s InsertStatement
	s.Ignore = p.accept("IGNORE")
	if err := p.expect("INTO"); err != nil {
		return nil, err
	}
	tb, err := p.name()
	if err != nil {
		return nil, err
	}
	s.Table = tb

	if p.peek().is(tokPunct, "(") {
		p.next()
		for {
			f, err := p.fieldPath()
			if err != nil {
				return nil, err
			}
			s.Fields = append(s.Fields, f)
			if p.acceptPunct(")") {
				break
			}
			if err := p.expectPunct(","); err != nil {
				return nil, err
			}
		}
		if err := p.expect("VALUES"); err != nil {
			return nil, err
		}
		for {
			inner, err := p.block()
			if err != nil {
				return nil, err
			}
			row, err := splitExprs(inner)
			if err != nil {
				return nil, err
			}
			if len(row) != len(s.Fields) {
				return nil, p.errorf("expected %d values, got %d", len(s.Fields), len(row))
			}
			s.Rows = append(s.Rows, row)
			if !p.acceptPunct(",") {
				break
			}
		}
	} else {
		e, err := p.exprUntil(false, "ON", "RETURN")
		if err != nil {
			return nil, err
		}
		s.Value = e
	}
	if p.peek().keyword("ON") {
		return nil, p.errorf("ON DUPLICATE KEY UPDATE is not supported")
	}
	p.accept("RETURN")
	p.skipClause()
	return s, nil
}

// splitExprs cuts a comma separated list into expressions.
func splitExprs(src string) ([]*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	var out []*Expr
	for !p.eof() {
		e, err := p.exprUntil(true)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if !p.acceptPunct(",") {
			break
		}
	}
	return out, nil
}

var selectStops = []string{"WHERE", "SPLIT", "GROUP", "ORDER", "LIMIT", "START", "FETCH", "VERSION", "TIMEOUT", "PARALLEL", "EXPLAIN", "WITH"}

func (p *parser) selectStatement() (Statement, error) {
	var s SelectStatement
	if p.accept("VALUE") {
		e, err := p.exprUntil(false, "FROM")
		if err != nil {
			return nil, err
		}
		s.Value = e
	} else {
		for {
			if p.acceptPunct("*") {
				s.Fields = append(s.Fields, Field{All: true})
			} else {
				e, err := p.exprUntil(true, "AS", "FROM")
				if err != nil {
					return nil, err
				}
				f := Field{Expr: e}
				if p.accept("AS") {
					if f.Alias, err = p.fieldPath(); err != nil {
						return nil, err
					}
				}
				s.Fields = append(s.Fields, f)
			}
			if !p.acceptPunct(",") {
				break
			}
		}
	}
	if err := p.expect("FROM"); err != nil {
		return nil, err
	}
	s.Only = p.accept("ONLY")
	for {
		t, err := p.target(selectStops...)
		if err != nil {
			return nil, err
		}
		s.From = append(s.From, t)
		if !p.acceptPunct(",") {
			break
		}
	}

	for !p.eof() {
		var err error
		switch {
		case p.accept("WHERE"):
			s.Where, err = p.exprUntil(false, selectStops...)
		case p.accept("SPLIT"):
			return nil, p.errorf("SPLIT is not supported")
		case p.accept("GROUP"):
			if !p.accept("ALL") {
				return nil, p.errorf("only GROUP ALL is supported")
			}
			s.GroupAll = true
		case p.accept("ORDER"):
			p.accept("BY")
			for {
				f, ferr := p.fieldPath()
				if ferr != nil {
					return nil, ferr
				}
				o := Order{Field: f}
				p.accept("COLLATE", "NUMERIC")
				if p.accept("DESC") {
					o.Desc = true
				} else {
					p.accept("ASC")
				}
				s.OrderBy = append(s.OrderBy, o)
				if !p.acceptPunct(",") {
					break
				}
			}
		case p.accept("LIMIT"):
			p.accept("BY")
			s.Limit, err = p.exprUntil(false, selectStops...)
		case p.accept("START"):
			p.accept("AT")
			s.Start, err = p.exprUntil(false, selectStops...)
		case p.accept("FETCH"):
			p.skipClause(selectStops...)
		case p.accept("VERSION"):
			s.Version, err = p.exprUntil(false, selectStops...)
		case p.accept("TIMEOUT"):
			_, err = p.duration()
		case p.accept("PARALLEL"):
		case p.accept("EXPLAIN", "WITH"):
			return nil, p.errorf("%s is not supported", strings.ToUpper(p.toks[p.i-1].text))
		default:
			return nil, p.errorf("unexpected %q", p.peek().text)
		}
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (p *parser) update(upsert bool) (Statement, error) {
	s := UpdateStatement{Upsert: upsert}
	s.Only = p.accept("ONLY")
	t, err := p.target(writeStops...)
	if err != nil {
		return nil, err
	}
	s.Target = t
	if s.Data, err = p.data(writeStops...); err != nil {
		return nil, err
	}
	if p.accept("WHERE") {
		if s.Where, err = p.exprUntil(false, "RETURN", "TIMEOUT", "PARALLEL"); err != nil {
			return nil, err
		}
	}
	if s.Return, err = p.returnClause(); err != nil {
		return nil, err
	}
	return s, p.trailing()
}

func (p *parser) delete() (Statement, error) {
	var s DeleteStatement
	p.accept("FROM")
	s.Only = p.accept("ONLY")
	t, err := p.target(writeStops...)
	if err != nil {
		return nil, err
	}
	s.Target = t
	if p.accept("WHERE") {
		if s.Where, err = p.exprUntil(false, "RETURN", "TIMEOUT", "PARALLEL"); err != nil {
			return nil, err
		}
	}
	if s.Return, err = p.returnClause(); err != nil {
		return nil, err
	}
	return s, p.trailing()
}
