package database_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgo/surrealembed/internal/database"
	"github.com/forgo/surrealembed/internal/kvs"
	"github.com/forgo/surrealembed/internal/testing/testdb"
	"github.com/forgo/surrealembed/pkg/engine"
	"github.com/forgo/surrealembed/pkg/models"
	"github.com/forgo/surrealembed/pkg/opt"
	"github.com/forgo/surrealembed/pkg/rpc"
)

// ============================================================================
// Connect
// ============================================================================

func TestClient_Connect_UnknownScheme(t *testing.T) {
	t.Parallel()

	engines := engine.EmbeddedEngines(kvs.New(kvs.Config{}), opt.Options{})
	db := database.NewClient(database.Config{URL: "rocksdb://x"}, engines)
	err := db.Connect(context.Background())
	require.ErrorIs(t, err, database.ErrConnection)
	assert.Equal(t, engine.Disconnected, db.Status())
}

func TestClient_Connect_MemoryAlias(t *testing.T) {
	t.Parallel()

	engines := engine.EmbeddedEngines(kvs.New(kvs.Config{}), opt.Options{})
	db := database.NewClient(database.Config{URL: "memory", Namespace: "test", Database: "test"}, engines)
	require.NoError(t, db.Connect(context.Background()))
	t.Cleanup(func() { _ = db.Close() })
	assert.Equal(t, engine.Connected, db.Status())
}

func TestClient_Connect_SignsInAsRoot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engines := engine.EmbeddedEngines(kvs.New(kvs.Config{}), opt.Options{})
	url := "surrealkv://" + filepath.Join(t.TempDir(), "auth.db")

	setup := database.NewClient(database.Config{URL: url}, engines)
	require.NoError(t, setup.Connect(ctx))
	require.NoError(t, setup.Execute(ctx, "DEFINE USER root ON ROOT PASSWORD 'secret' ROLES OWNER", nil))
	require.NoError(t, setup.Close())

	db := database.NewClient(database.Config{
		URL:       url,
		Namespace: "app",
		Database:  "main",
		User:      "root",
		Password:  "secret",
	}, engines)
	require.NoError(t, db.Connect(ctx))
	t.Cleanup(func() { _ = db.Close() })

	state := db.Engine().Connection()
	assert.NotEmpty(t, state.Token)
	assert.Equal(t, "app", state.Namespace)
	assert.Equal(t, "main", state.Database)

	bad := database.NewClient(database.Config{URL: url, User: "root", Password: "wrong"}, engines)
	require.ErrorIs(t, bad.Connect(ctx), database.ErrConnection)
}

func TestClient_NotConnected(t *testing.T) {
	t.Parallel()

	db := database.NewClient(database.Config{URL: "mem://"}, nil)
	ctx := context.Background()
	require.ErrorIs(t, db.Ping(ctx), database.ErrConnection)
	_, err := db.Query(ctx, "RETURN 1", nil)
	require.ErrorIs(t, err, database.ErrConnection)
	_, err = db.BeginTx(ctx)
	require.ErrorIs(t, err, database.ErrConnection)
	require.NoError(t, db.Close())
}

// ============================================================================
// Queries
// ============================================================================

func TestClient_QueryAndQueryOne(t *testing.T) {
	t.Parallel()

	tdb := testdb.New(t)
	tdb.MustExec("CREATE person:1 SET name = $name", map[string]any{"name": "Tobie"})

	results := tdb.MustQuery("SELECT * FROM person; RETURN 1", nil)
	require.Len(t, results, 2)

	one, err := tdb.DB.QueryOne(tdb.Ctx(), "SELECT * FROM person:1", nil)
	require.NoError(t, err)
	assert.Equal(t, "Tobie", one.(map[string]any)["name"])

	_, err = tdb.DB.QueryOne(tdb.Ctx(), "SELECT * FROM person:404", nil)
	require.ErrorIs(t, err, database.ErrNotFound)

	n, err := tdb.DB.QueryOne(tdb.Ctx(), "RETURN 41 + 1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestClient_Query_Errors(t *testing.T) {
	t.Parallel()

	tdb := testdb.New(t)
	tdb.MustExec("CREATE person:1", nil)

	err := tdb.DB.Execute(tdb.Ctx(), "CREATE person:1", nil)
	require.ErrorIs(t, err, database.ErrQuery)
	require.ErrorIs(t, err, database.ErrDuplicate)

	err = tdb.DB.Execute(tdb.Ctx(), "SELECT FROM", nil)
	require.ErrorIs(t, err, database.ErrQuery)
	var rpcErr *rpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(rpc.CodeThrown), rpcErr.Code)
}

func TestClient_RecordMethods(t *testing.T) {
	t.Parallel()

	tdb := testdb.New(t)
	ctx := tdb.Ctx()
	rid := models.NewRecordID("person", "tobie")

	created, err := tdb.DB.Create(ctx, rid, map[string]any{"name": "Tobie"})
	require.NoError(t, err)
	require.Len(t, created, 1)

	_, err = tdb.DB.Create(ctx, rid, map[string]any{"name": "again"})
	require.ErrorIs(t, err, database.ErrDuplicate)

	merged, err := tdb.DB.Merge(ctx, rid, map[string]any{"age": int64(33)})
	require.NoError(t, err)
	assert.Equal(t, int64(33), merged[0].(map[string]any)["age"])

	all, err := tdb.DB.Select(ctx, models.Table("person"))
	require.NoError(t, err)
	assert.Len(t, all, 1)

	tdb.AssertRecordExists(t, "person", "tobie")
	deleted, err := tdb.DB.Delete(ctx, rid)
	require.NoError(t, err)
	assert.Len(t, deleted, 1)
	tdb.AssertRecordNotExists(t, "person", "person:tobie")
}

func TestClient_Vars(t *testing.T) {
	t.Parallel()

	tdb := testdb.New(t)
	ctx := tdb.Ctx()
	require.NoError(t, tdb.DB.Let(ctx, "greeting", "hello"))
	got, err := tdb.DB.QueryOne(ctx, "RETURN $greeting", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	require.NoError(t, tdb.DB.Unset(ctx, "greeting"))
	got, err = tdb.DB.QueryOne(ctx, "RETURN $greeting", nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClient_Version(t *testing.T) {
	t.Parallel()

	tdb := testdb.New(t)
	v, err := tdb.DB.Version(tdb.Ctx())
	require.NoError(t, err)
	assert.Equal(t, kvs.Version, v)
	require.NoError(t, tdb.DB.Ping(tdb.Ctx()))
}

// ============================================================================
// Auth
// ============================================================================

func TestClient_RecordAccess(t *testing.T) {
	t.Parallel()

	tdb := testdb.New(t, testdb.WithSeed(`
		DEFINE ACCESS account ON DATABASE TYPE RECORD
			SIGNUP (CREATE user SET email = $email, pass = crypto::argon2::generate($pass))
			SIGNIN (SELECT * FROM user WHERE email = $email AND crypto::argon2::compare(pass, $pass))
			DURATION FOR SESSION 1h
	`))
	ctx := tdb.Ctx()
	creds := map[string]any{
		"ns":    tdb.Namespace,
		"db":    tdb.Database,
		"ac":    "account",
		"email": "a@example.com",
		"pass":  "hunter2",
	}

	token, err := tdb.DB.SignUp(ctx, creds)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, token, tdb.DB.Engine().Connection().Token)

	require.NoError(t, tdb.DB.Invalidate(ctx))
	assert.Empty(t, tdb.DB.Engine().Connection().Token)

	token, err = tdb.DB.SignIn(ctx, creds)
	require.NoError(t, err)
	require.NoError(t, tdb.DB.Authenticate(ctx, token))

	creds["pass"] = "wrong"
	_, err = tdb.DB.SignIn(ctx, creds)
	require.ErrorIs(t, err, database.ErrQuery)
}

// ============================================================================
// Transactions
// ============================================================================

func TestClient_BeginTx(t *testing.T) {
	t.Parallel()

	tdb := testdb.New(t)
	ctx := tdb.Ctx()

	tx, err := tdb.DB.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Execute(ctx, "CREATE account:1 SET balance = $amount", map[string]any{"amount": int64(100)}))
	require.NoError(t, tx.Execute(ctx, "CREATE account:2 SET balance = $amount", map[string]any{"amount": int64(50)}))
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Commit())

	all, err := tdb.DB.Select(ctx, "account")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	tx, err = tdb.DB.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Execute(ctx, "CREATE account:3", nil))
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Commit())
	all, err = tdb.DB.Select(ctx, "account")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAtomicBatch_AllOrNothing(t *testing.T) {
	t.Parallel()

	tdb := testdb.New(t)
	ctx := tdb.Ctx()

	batch := database.NewAtomicBatch().
		Add("CREATE item:1 SET n = $n", map[string]any{"n": int64(1)}).
		Add("CREATE item:1 SET n = $n", map[string]any{"n": int64(2)})
	assert.Equal(t, 2, batch.Len())

	err := batch.Execute(ctx, tdb.DB)
	require.ErrorIs(t, err, database.ErrDuplicate)
	tdb.AssertRecordNotExists(t, "item", int64(1))

	all, err := tdb.DB.Select(ctx, "item")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTxBuilder_NamespacesVariables(t *testing.T) {
	t.Parallel()

	tb := database.NewTxBuilder()
	m1 := tb.Add("CREATE a SET email = $email, emails = $emails", map[string]any{"email": "x", "emails": "y"})
	m2 := tb.Add("CREATE b SET email = $email", map[string]any{"email": "z"})
	tb.AddRaw("RETURN 1;")

	query, vars := tb.Build()
	assert.Equal(t, "BEGIN TRANSACTION;\n"+
		"CREATE a SET email = $v1_email, emails = $v1_emails;\n"+
		"CREATE b SET email = $v2_email;\n"+
		"RETURN 1;\n"+
		"COMMIT TRANSACTION;", query)
	assert.Equal(t, "v1_email", m1["email"])
	assert.Equal(t, "v2_email", m2["email"])
	assert.Equal(t, map[string]any{"v1_email": "x", "v1_emails": "y", "v2_email": "z"}, vars)

	empty, _ := database.NewTxBuilder().Build()
	assert.Empty(t, empty)
}

func TestUnitOfWork_RollbackOnFailure(t *testing.T) {
	t.Parallel()

	tdb := testdb.New(t)
	tdb.MustExec("CREATE taken:1", nil)

	var rolledBack []string
	uow := database.NewUnitOfWork(tdb.DB)
	uow.AddWithRollback("CREATE free:1", nil, func(context.Context) error {
		rolledBack = append(rolledBack, "first")
		return nil
	})
	uow.AddWithRollback("CREATE taken:1", nil, func(context.Context) error {
		rolledBack = append(rolledBack, "second")
		return nil
	})

	require.Error(t, uow.Commit(tdb.Ctx()))
	assert.Equal(t, []string{"second", "first"}, rolledBack)
}

func TestMultiStepOperation_RollsBackCompletedSteps(t *testing.T) {
	t.Parallel()

	tdb := testdb.New(t)
	mso := database.NewMultiStepOperation(tdb.DB)
	mso.AddStep("reserve", func(ctx context.Context, db database.Database) error {
		return db.Execute(ctx, "CREATE seat:1 SET held = true", nil)
	}, func(ctx context.Context, db database.Database) error {
		return db.Execute(ctx, "DELETE seat:1", nil)
	})
	mso.AddStep("charge", func(context.Context, database.Database) error {
		return errors.New("card declined")
	}, nil)

	err := mso.Execute(tdb.Ctx())
	require.ErrorContains(t, err, "step charge failed")

	seats, err := tdb.DB.Select(tdb.Ctx(), "seat")
	require.NoError(t, err)
	assert.Empty(t, seats)
}

func TestUnmarshalResult(t *testing.T) {
	t.Parallel()

	tdb := testdb.New(t)
	tdb.MustExec("CREATE person:1 SET name = 'a'", nil)

	results := tdb.MustQuery("SELECT * FROM person", nil)
	doc, err := database.UnmarshalResult[map[string]any](results)
	require.NoError(t, err)
	assert.Equal(t, "a", doc["name"])

	_, err = database.UnmarshalResult[string](results)
	require.Error(t, err)

	_, err = database.UnmarshalResult[map[string]any]([]any{})
	require.ErrorIs(t, err, database.ErrNotFound)
}

// ============================================================================
// Live and export
// ============================================================================

func TestClient_Live(t *testing.T) {
	t.Parallel()

	tdb := testdb.New(t)
	ctx := tdb.Ctx()

	var (
		mu      sync.Mutex
		actions []string
	)
	got := make(chan struct{}, 4)
	kill, err := tdb.DB.Live(ctx, "person", func(n engine.Notification) {
		mu.Lock()
		actions = append(actions, n.Action)
		mu.Unlock()
		got <- struct{}{}
	})
	require.NoError(t, err)

	tdb.MustExec("CREATE person:1; DELETE person:1", nil)
	for range 2 {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatal("missing notification")
		}
	}
	mu.Lock()
	assert.Equal(t, []string{"CREATE", "DELETE"}, actions)
	mu.Unlock()

	require.NoError(t, kill(ctx))
}

func TestClient_Export(t *testing.T) {
	t.Parallel()

	tdb := testdb.New(t, testdb.WithSeed("CREATE person:1 SET name = 'a'"))
	dump, err := tdb.DB.Export(tdb.Ctx(), opt.DefaultExportOptions())
	require.NoError(t, err)
	assert.Contains(t, dump, "INSERT INTO person")

	restored := testdb.New(t, testdb.WithSeed(dump))
	results := restored.MustQuery("SELECT * FROM person", nil)
	doc, err := database.UnmarshalResult[map[string]any](results)
	require.NoError(t, err)
	assert.Equal(t, "a", doc["name"])
}

// ============================================================================
// Test database helpers
// ============================================================================

func TestShared_SetupSubtestClearsData(t *testing.T) {
	t.Parallel()

	shared := testdb.NewShared(t, testdb.WithSeed("DEFINE TABLE person"))
	t.Run("write", func(t *testing.T) {
		db := shared.SetupSubtest(t)
		db.MustExec("CREATE person:1", nil)
	})
	t.Run("clean", func(t *testing.T) {
		db := shared.SetupSubtest(t)
		results := db.MustQuery("SELECT * FROM person", nil)
		_, err := database.UnmarshalResult[map[string]any](results)
		require.ErrorIs(t, err, database.ErrNotFound)
	})
}

func TestNew_Strict(t *testing.T) {
	t.Parallel()

	tdb := testdb.New(t, testdb.WithOptions(opt.Options{Strict: true}))
	err := tdb.DB.Execute(tdb.Ctx(), "CREATE person:1", nil)
	require.ErrorIs(t, err, database.ErrQuery)
}
