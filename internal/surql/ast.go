package surql

import "time"

// Statement is one parsed statement.
type Statement interface {
	statement()
}

// Level is the level a user or access method is defined on.
type Level string

const (
	LevelRoot      Level = "ROOT"
	LevelNamespace Level = "NAMESPACE"
	LevelDatabase  Level = "DATABASE"
)

// ReturnKind selects what a write statement returns.
type ReturnKind int

const (
	ReturnDefault ReturnKind = iota
	ReturnNone
	ReturnBefore
	ReturnAfter
	ReturnDiff
)

// DataKind selects how a write statement supplies content.
type DataKind int

const (
	DataNone DataKind = iota
	DataContent
	DataMerge
	DataReplace
	DataSet
)

// Target is what a statement reads or writes: a table, a record, a batch of
// generated records (|tb:N|) or an expression evaluating to any of those.
type Target struct {
	Table string
	ID    any
	HasID bool
	Count int
	Expr  *Expr
}

// Assignment is one SET clause entry. Op is "=", "+=" or "-=".
type Assignment struct {
	Field string
	Op    string
	Value *Expr
}

// Data is the content clause of a write statement.
type Data struct {
	Kind  DataKind
	Value *Expr
	Sets  []Assignment
}

// Field is one projection of a SELECT.
type Field struct {
	All   bool
	Expr  *Expr
	Alias string
}

// Order is one ORDER BY entry.
type Order struct {
	Field string
	Desc  bool
}

type (
	UseStatement struct {
		NS string
		DB string
	}
	LetStatement struct {
		Name  string
		Value *Expr
	}
	ReturnStatement struct {
		Value *Expr
	}
	// ExprStatement is a bare expression.
	ExprStatement struct {
		Value *Expr
	}
	BeginStatement  struct{}
	CommitStatement struct{}
	CancelStatement struct{}

	DefineNamespaceStatement struct {
		Name        string
		IfNotExists bool
		Overwrite   bool
	}
	DefineDatabaseStatement struct {
		Name        string
		IfNotExists bool
		Overwrite   bool
	}
	DefineTableStatement struct {
		Name        string
		IfNotExists bool
		Overwrite   bool
		Schemafull  bool
		Drop        bool
	}
	DefineUserStatement struct {
		Name        string
		Base        Level
		Password    string
		Passhash    string
		Roles       []string
		IfNotExists bool
		Overwrite   bool
		Session     time.Duration
		Token       time.Duration
	}
	// DefineAccessStatement covers DEFINE ACCESS ... TYPE RECORD and the
	// older DEFINE SCOPE form.
	DefineAccessStatement struct {
		Name        string
		Base        Level
		Signup      Statement
		Signin      Statement
		Session     time.Duration
		Token       time.Duration
		IfNotExists bool
		Overwrite   bool
		Source      string
	}
	RemoveStatement struct {
		Kind     string
		Name     string
		Base     Level
		IfExists bool
	}
	InfoStatement struct {
		Level Level
		Table string
	}
	CreateStatement struct {
		Only   bool
		Target Target
		Data   Data
		Return ReturnKind
	}
	InsertStatement struct {
		Table  string
		Value  *Expr
		Fields []string
		Rows   [][]*Expr
		Ignore bool
	}
	SelectStatement struct {
		Fields   []Field
		Value    *Expr
		Only     bool
		From     []Target
		Where    *Expr
		GroupAll bool
		OrderBy  []Order
		Limit    *Expr
		Start    *Expr
		Version  *Expr
	}
	UpdateStatement struct {
		Upsert bool
		Only   bool
		Target Target
		Data   Data
		Where  *Expr
		Return ReturnKind
	}
	DeleteStatement struct {
		Only   bool
		Target Target
		Where  *Expr
		Return ReturnKind
	}
)

func (UseStatement) statement()             {}
func (LetStatement) statement()             {}
func (ReturnStatement) statement()          {}
func (ExprStatement) statement()            {}
func (BeginStatement) statement()           {}
func (CommitStatement) statement()          {}
func (CancelStatement) statement()          {}
func (DefineNamespaceStatement) statement() {}
func (DefineDatabaseStatement) statement()  {}
func (DefineTableStatement) statement()     {}
func (DefineUserStatement) statement()      {}
func (DefineAccessStatement) statement()    {}
func (RemoveStatement) statement()          {}
func (InfoStatement) statement()            {}
func (CreateStatement) statement()          {}
func (InsertStatement) statement()          {}
func (SelectStatement) statement()          {}
func (UpdateStatement) statement()          {}
func (DeleteStatement) statement()          {}

// Writes reports whether executing s may modify data or definitions.
func Writes(s Statement) bool {
	switch s.(type) {
	case SelectStatement, InfoStatement, UseStatement, LetStatement, ReturnStatement, ExprStatement,
		BeginStatement, CommitStatement, CancelStatement:
		return false
	}
	return true
}
