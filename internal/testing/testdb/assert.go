package testdb

import (
	"testing"

	"github.com/forgo/surrealembed/pkg/models"
)

// AssertRecordExists checks that a record exists. id may be a bare key or a
// full "table:key" record id.
func (tdb *TestDB) AssertRecordExists(t *testing.T, table string, id any) {
	t.Helper()
	if !tdb.recordExists(t, table, id) {
		t.Errorf("expected record %s:%v to exist, but it doesn't", table, id)
	}
}

// AssertRecordNotExists checks that a record does not exist.
func (tdb *TestDB) AssertRecordNotExists(t *testing.T, table string, id any) {
	t.Helper()
	if tdb.recordExists(t, table, id) {
		t.Errorf("expected record %s:%v to not exist, but it does", table, id)
	}
}

func (tdb *TestDB) recordExists(t *testing.T, table string, id any) bool {
	t.Helper()

	if s, ok := id.(string); ok {
		if rid, err := models.ParseRecordID(s); err == nil && rid.Table == table {
			id = rid.ID
		}
	}
	results, err := tdb.DB.Select(tdb.Ctx(), models.NewRecordID(table, id))
	if err != nil {
		t.Fatalf("testdb: failed to query for record: %v", err)
	}
	return len(results) > 0
}
