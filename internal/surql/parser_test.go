package surql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseOne(t *testing.T, src string) Statement {
	t.Helper()
	stmts, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	return stmts[0]
}

// =============================================================================
// Statement Splitting Tests
// =============================================================================

func TestParse_MultipleStatements(t *testing.T) {
	t.Parallel()

	stmts, err := Parse("USE NS test DB app; SELECT * FROM person WHERE age > 10 ORDER BY name DESC LIMIT 5;")
	require.NoError(t, err)
	require.Len(t, stmts, 2)

	assert.Equal(t, UseStatement{NS: "test", DB: "app"}, stmts[0])

	sel, ok := stmts[1].(SelectStatement)
	require.True(t, ok)
	require.Len(t, sel.From, 1)
	assert.Equal(t, "person", sel.From[0].Table)
	assert.Equal(t, []Field{{All: true}}, sel.Fields)
	assert.Equal(t, "age > 10", sel.Where.Src)
	assert.Equal(t, []Order{{Field: "name", Desc: true}}, sel.OrderBy)
	assert.Equal(t, "5", sel.Limit.Src)
}

func TestParse_SemicolonInsideString(t *testing.T) {
	t.Parallel()

	stmts, err := Parse("RETURN 'a;b'; RETURN 2")
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, "'a;b'", stmts[0].(ReturnStatement).Value.Src)
}

func TestParse_CommentsAndBlankStatements(t *testing.T) {
	t.Parallel()

	stmts, err := Parse("-- leading comment\n;; /* block */ RETURN 1; # trailing")
	require.NoError(t, err)
	require.Len(t, stmts, 1)
}

// =============================================================================
// Target Tests
// =============================================================================

func TestParse_Create_Targets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		src  string
		want Target
	}{
		{"CREATE person", Target{Table: "person"}},
		{"CREATE person:tobie", Target{Table: "person", ID: "tobie", HasID: true}},
		{"CREATE person:100", Target{Table: "person", ID: int64(100), HasID: true}},
		{"CREATE person:⟨tobie morgan⟩", Target{Table: "person", ID: "tobie morgan", HasID: true}},
		{"CREATE person:uuid()", Target{Table: "person", ID: IDGenerator("uuid"), HasID: true}},
		{"CREATE |foo:100|", Target{Table: "foo", Count: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			t.Parallel()
			stmt := parseOne(t, tt.src)
			create, ok := stmt.(CreateStatement)
			require.True(t, ok)
			assert.Equal(t, tt.want, create.Target)
		})
	}
}

func TestParse_Select_ExpressionTarget(t *testing.T) {
	t.Parallel()

	sel := parseOne(t, "SELECT * FROM type::thing('person', 1)").(SelectStatement)
	require.Len(t, sel.From, 1)
	require.NotNil(t, sel.From[0].Expr)
	assert.Equal(t, "type::thing('person', 1)", sel.From[0].Expr.Src)
}

func TestParse_Select_ParamTarget(t *testing.T) {
	t.Parallel()

	sel := parseOne(t, "SELECT VALUE name FROM ONLY $rec").(SelectStatement)
	assert.True(t, sel.Only)
	assert.Equal(t, "name", sel.Value.Src)
	assert.Equal(t, "$rec", sel.From[0].Expr.Src)
}

// =============================================================================
// Write Statement Tests
// =============================================================================

func TestParse_Create_Content(t *testing.T) {
	t.Parallel()

	create := parseOne(t, "CREATE person:tobie CONTENT { name: 'Tobie', tags: ['a', 'b'] } RETURN AFTER").(CreateStatement)
	assert.Equal(t, DataContent, create.Data.Kind)
	assert.Equal(t, "{ name: 'Tobie', tags: ['a', 'b'] }", create.Data.Value.Src)
	assert.Equal(t, ReturnAfter, create.Return)
}

func TestParse_Update_SetWhereReturn(t *testing.T) {
	t.Parallel()

	upd := parseOne(t, "UPDATE person SET age += 1, address.city = 'London' WHERE age < 3 RETURN NONE").(UpdateStatement)
	assert.False(t, upd.Upsert)
	require.Len(t, upd.Data.Sets, 2)
	assert.Equal(t, "age", upd.Data.Sets[0].Field)
	assert.Equal(t, "+=", upd.Data.Sets[0].Op)
	assert.Equal(t, "1", upd.Data.Sets[0].Value.Src)
	assert.Equal(t, "address.city", upd.Data.Sets[1].Field)
	assert.Equal(t, "age < 3", upd.Where.Src)
	assert.Equal(t, ReturnNone, upd.Return)
}

func TestParse_Upsert_Merge(t *testing.T) {
	t.Parallel()

	upd := parseOne(t, "UPSERT person:1 MERGE { active: true }").(UpdateStatement)
	assert.True(t, upd.Upsert)
	assert.Equal(t, DataMerge, upd.Data.Kind)
	assert.Equal(t, int64(1), upd.Target.ID)
}

func TestParse_Delete(t *testing.T) {
	t.Parallel()

	del := parseOne(t, "DELETE FROM person WHERE age > 90 RETURN BEFORE").(DeleteStatement)
	assert.Equal(t, "person", del.Target.Table)
	assert.Equal(t, "age > 90", del.Where.Src)
	assert.Equal(t, ReturnBefore, del.Return)
}

func TestParse_Insert_Values(t *testing.T) {
	t.Parallel()

	ins := parseOne(t, "INSERT INTO person (name, age) VALUES ('a', 1), ('b', 2)").(InsertStatement)
	assert.Equal(t, "person", ins.Table)
	assert.Equal(t, []string{"name", "age"}, ins.Fields)
	require.Len(t, ins.Rows, 2)
	assert.Equal(t, "'b'", ins.Rows[1][0].Src)
	assert.Equal(t, "2", ins.Rows[1][1].Src)
}

func TestParse_Insert_Object(t *testing.T) {
	t.Parallel()

	ins := parseOne(t, "INSERT INTO person [{ name: 'a' }, { name: 'b' }]").(InsertStatement)
	assert.Equal(t, "[{ name: 'a' }, { name: 'b' }]", ins.Value.Src)
}

// =============================================================================
// Definition Tests
// =============================================================================

func TestParse_DefineUser(t *testing.T) {
	t.Parallel()

	def := parseOne(t, "DEFINE USER admin ON ROOT PASSWORD 'secret' ROLES OWNER, editor").(DefineUserStatement)
	assert.Equal(t, "admin", def.Name)
	assert.Equal(t, LevelRoot, def.Base)
	assert.Equal(t, "secret", def.Password)
	assert.Equal(t, []string{"Owner", "Editor"}, def.Roles)
}

func TestParse_DefineUser_RequiresPassword(t *testing.T) {
	t.Parallel()

	_, err := Parse("DEFINE USER admin ON ROOT ROLES OWNER")
	assert.ErrorIs(t, err, ErrParse)
}

func TestParse_DefineAccess(t *testing.T) {
	t.Parallel()

	def := parseOne(t, `DEFINE ACCESS account ON DATABASE TYPE RECORD
		SIGNUP (CREATE user SET email = $email, pass = crypto::argon2::generate($pass))
		SIGNIN (SELECT * FROM user WHERE email = $email AND crypto::argon2::compare(pass, $pass))
		DURATION FOR TOKEN 15m, FOR SESSION 12h`).(DefineAccessStatement)

	assert.Equal(t, "account", def.Name)
	assert.IsType(t, CreateStatement{}, def.Signup)
	assert.IsType(t, SelectStatement{}, def.Signin)
	assert.Equal(t, 15*time.Minute, def.Token)
	assert.Equal(t, 12*time.Hour, def.Session)
	assert.Contains(t, def.Source, "DEFINE ACCESS account ON DATABASE")
}

func TestParse_DefineScope(t *testing.T) {
	t.Parallel()

	def := parseOne(t, "DEFINE SCOPE account SESSION 24h SIGNIN (SELECT * FROM user WHERE email = $email)").(DefineAccessStatement)
	assert.Equal(t, LevelDatabase, def.Base)
	assert.Equal(t, 24*time.Hour, def.Session)
	assert.Nil(t, def.Signup)
	assert.NotNil(t, def.Signin)
}

func TestParse_RemoveAndInfo(t *testing.T) {
	t.Parallel()

	assert.Equal(t, RemoveStatement{Kind: "table", Name: "person", IfExists: true}, parseOne(t, "REMOVE TABLE IF EXISTS person"))
	assert.Equal(t, InfoStatement{Level: LevelDatabase}, parseOne(t, "INFO FOR DB"))
	assert.Equal(t, InfoStatement{Level: "TABLE", Table: "person"}, parseOne(t, "INFO FOR TABLE person"))
}

// =============================================================================
// Error Tests
// =============================================================================

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	for _, src := range []string{
		"SELECT FROM person",
		"SELECT * FROM person GROUP BY name",
		"CREATE |foo:x|",
		"LET x = 1",
		"RETURN 'unterminated",
		"LIVE SELECT * FROM person",
	} {
		t.Run(src, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(src)
			assert.ErrorIs(t, err, ErrParse)
		})
	}
}

func TestWrites(t *testing.T) {
	t.Parallel()

	assert.False(t, Writes(parseOne(t, "SELECT * FROM person")))
	assert.False(t, Writes(parseOne(t, "RETURN 1")))
	assert.True(t, Writes(parseOne(t, "CREATE person")))
	assert.True(t, Writes(parseOne(t, "DEFINE TABLE person SCHEMALESS")))
}
