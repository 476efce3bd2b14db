package surql

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Expr is a SurrealQL expression. It is rewritten into expr-lang syntax and
// compiled on first evaluation; the compiled program is shared by every
// later evaluation.
type Expr struct {
	Src string

	once    sync.Once
	program *vm.Program
	funcs   []string
	err     error
}

// NewExpr wraps src without compiling it.
func NewExpr(src string) *Expr {
	return &Expr{Src: strings.TrimSpace(src)}
}

func (e *Expr) String() string { return e.Src }

// Compile translates and compiles the expression, reporting syntax errors
// and unknown functions.
func (e *Expr) Compile() error {
	_, err := e.compile()
	return err
}

func (e *Expr) compile() (*vm.Program, error) {
	e.once.Do(func() {
		src, funcs, err := translate(e.Src)
		if err != nil {
			e.err = err
			return
		}
		program, err := expr.Compile(src, expr.Env(map[string]interface{}{}), expr.AllowUndefinedVariables())
		if err != nil {
			e.err = fmt.Errorf("%w: %v", ErrParse, err)
			return
		}
		e.program, e.funcs = program, funcs
	})
	return e.program, e.err
}

// Eval evaluates the expression against env. A nil env evaluates with no
// parameters and no document.
func (e *Expr) Eval(env *Env) (any, error) {
	program, err := e.compile()
	if err != nil {
		return nil, err
	}
	if env == nil {
		env = &Env{}
	}
	out, err := vm.Run(program, env.build(e.funcs))
	if err != nil {
		return nil, err
	}
	return Normalize(out), nil
}

// Env is what an expression can see while it runs.
type Env struct {
	// Vars holds $parameters by name, without the dollar sign.
	Vars map[string]any
	// Doc is the current record; its fields are visible as bare identifiers.
	Doc map[string]any
	// Group, when set, holds the rows of a GROUP ALL. Each field then
	// evaluates to the list of that field's values across the rows.
	Group []map[string]any
	// NS and DB are the session's namespace and database.
	NS string
	DB string
	// Allow reports whether a function may be called. Nil allows all.
	Allow func(name string) bool
	// Now overrides the clock used by time::now.
	Now func() time.Time
}

func (env *Env) now() time.Time {
	if env.Now != nil {
		return env.Now()
	}
	return time.Now()
}

// With returns a copy of env evaluating against doc.
func (env *Env) With(doc map[string]any) *Env {
	out := *env
	out.Doc, out.Group = doc, nil
	return &out
}

func (env *Env) build(funcs []string) map[string]interface{} {
	m := make(map[string]interface{}, len(env.Vars)+len(env.Doc)+len(funcs)+len(helpers)+1)
	for k, v := range env.Vars {
		m["__v_"+k] = toEnv(v)
	}
	fields := env.Doc
	if env.Group != nil {
		fields = columns(env.Group)
	}
	for k, v := range fields {
		m["__f_"+k] = toEnv(v)
	}
	m["__field"] = func(name string) interface{} {
		return m["__f_"+name]
	}
	for name, fn := range helpers {
		m[name] = fn
	}
	for _, name := range funcs {
		m["__fn_"+mangle(name)] = env.bind(name, functions[name])
	}
	return m
}

// columns turns rows into one list of values per field.
func columns(rows []map[string]any) map[string]any {
	out := map[string]any{}
	for i, row := range rows {
		for k, v := range row {
			col, ok := out[k].([]any)
			if !ok {
				col = make([]any, len(rows))
				out[k] = col
			}
			col[i] = v
		}
	}
	return out
}

func (env *Env) bind(name string, fn function) func(...interface{}) interface{} {
	return func(args ...interface{}) interface{} {
		if env.Allow != nil && !env.Allow(name) {
			panic(fmt.Errorf("%w: %s", ErrFunctionNotAllowed, name))
		}
		for i := range args {
			args[i] = Normalize(args[i])
		}
		out, err := fn(env, args)
		if err != nil {
			panic(fmt.Errorf("%s: %w", name, err))
		}
		return toEnv(out)
	}
}

func mangle(name string) string {
	return strings.ReplaceAll(name, "::", "__")
}

// translate rewrites a SurrealQL expression into expr-lang syntax. It
// returns the rewritten source and the functions it calls.
func translate(src string) (string, []string, error) {
	toks, err := lex(src)
	if err != nil {
		return "", nil, err
	}
	at := func(i int) token {
		if i < 0 || i >= len(toks) {
			return token{kind: tokEOF}
		}
		return toks[i]
	}

	var (
		b      strings.Builder
		funcs  []string
		nested []string
	)
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if i > 0 && t.space {
			b.WriteByte(' ')
		}
		prev, next := at(i-1), at(i+1)
		member := prev.is(tokPunct, ".") || prev.is(tokPunct, "?.")
		objectKey := len(nested) > 0 && nested[len(nested)-1] == "{" &&
			(prev.is(tokPunct, "{") || prev.is(tokPunct, ",")) && next.is(tokPunct, ":")

		switch t.kind {
		case tokIdent:
			if member || objectKey {
				b.WriteString(t.text)
				continue
			}
			if name, n := funcName(toks, i); n > 0 {
				if _, ok := functions[name]; !ok {
					return "", nil, fmt.Errorf("%w: %s()", ErrUnknownFunction, name)
				}
				b.WriteString("__fn_" + mangle(name) + "(")
				funcs = append(funcs, name)
				nested = append(nested, "(")
				i += n - 1
				continue
			}
			if next.is(tokPunct, ":") && !next.space {
				id := at(i + 2)
				if !id.space {
					switch id.kind {
					case tokNumber:
						fmt.Fprintf(&b, "__rid(%q, %s)", t.val, id.text)
						i += 2
						continue
					case tokIdent, tokQuoted, tokString:
						fmt.Fprintf(&b, "__rid(%q, %q)", t.val, id.val)
						i += 2
						continue
					}
				}
			}
			switch strings.ToUpper(t.text) {
			case "AND":
				b.WriteString("&&")
			case "OR":
				b.WriteString("||")
			case "NOT":
				if next.keyword("IN", "INSIDE") {
					b.WriteString("not in")
					i++
				} else {
					b.WriteString("!")
				}
			case "IS":
				if next.keyword("NOT") {
					b.WriteString("!=")
					i++
				} else {
					b.WriteString("==")
				}
			case "NONE", "NULL":
				b.WriteString("nil")
			case "TRUE":
				b.WriteString("true")
			case "FALSE":
				b.WriteString("false")
			case "IN", "INSIDE":
				b.WriteString("in")
			case "NOTINSIDE":
				b.WriteString("not in")
			case "CONTAINS", "CONTAINSNOT", "CONTAINSALL", "CONTAINSANY", "CONTAINSNONE",
				"ALLINSIDE", "ANYINSIDE", "NONEINSIDE", "OUTSIDE", "INTERSECTS":
				return "", nil, fmt.Errorf("%w: %s operator, use IN instead", ErrUnsupported, strings.ToUpper(t.text))
			default:
				b.WriteString("__f_" + t.val)
			}
		case tokQuoted:
			switch {
			case member:
				fmt.Fprintf(&b, "[%q]", t.val)
			case objectKey:
				b.WriteString(strconv.Quote(t.val))
			default:
				fmt.Fprintf(&b, "__field(%q)", t.val)
			}
		case tokParam:
			b.WriteString("__v_" + t.val)
		case tokNumber:
			text := strings.ReplaceAll(t.text, "_", "")
			switch {
			case strings.HasSuffix(text, "dec"):
				fmt.Fprintf(&b, "__decimal(%q)", strings.TrimSuffix(text, "dec"))
			case strings.HasSuffix(text, "f"):
				num := strings.TrimSuffix(text, "f")
				if !strings.ContainsAny(num, ".eE") {
					num += ".0"
				}
				b.WriteString(num)
			default:
				b.WriteString(text)
			}
		case tokDuration:
			fmt.Fprintf(&b, "__duration(%q)", t.text)
		case tokString:
			b.WriteString(strconv.Quote(t.val))
		case tokPrefixed:
			switch t.text[0] {
			case 'd':
				fmt.Fprintf(&b, "__datetime(%q)", t.val)
			case 'r':
				fmt.Fprintf(&b, "__rid_parse(%q)", t.val)
			case 'u':
				fmt.Fprintf(&b, "__uuid(%q)", t.val)
			default:
				b.WriteString(strconv.Quote(t.val))
			}
		case tokPunct:
			switch t.text {
			case "=":
				b.WriteString("==")
			case "?:":
				b.WriteString("??")
			case ".":
				if next.kind == tokQuoted {
					continue
				}
				b.WriteString("?.")
			case "(", "[", "{":
				nested = append(nested, t.text)
				b.WriteString(t.text)
			case ")", "]", "}":
				if len(nested) > 0 {
					nested = nested[:len(nested)-1]
				}
				b.WriteString(t.text)
			case ";", "|", "@", "->", "<-", "..=", "::", "+=", "-=":
				return "", nil, fmt.Errorf("%w: unexpected %q", ErrParse, t.text)
			default:
				b.WriteString(t.text)
			}
		}
	}
	return b.String(), funcs, nil
}

// funcName recognises a call such as string::len( at toks[i]. It returns the
// lowercased name and the number of tokens consumed including the "(", or
// zero when toks[i] does not start a call.
func funcName(toks []token, i int) (string, int) {
	name := toks[i].val
	j := i
	for j+2 < len(toks) && toks[j+1].is(tokPunct, "::") && toks[j+2].kind == tokIdent {
		name += "::" + toks[j+2].val
		j += 2
	}
	if j+1 < len(toks) && toks[j+1].is(tokPunct, "(") {
		return strings.ToLower(name), j + 2 - i
	}
	return "", 0
}
