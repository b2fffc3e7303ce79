package seed

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"sqlchart-agent/internal/sqldb"
)

func openDB(t *testing.T) *sqldb.DB {
	t.Helper()
	db, err := sqldb.Open(context.Background(), filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDatasets(t *testing.T) {
	names, err := Datasets()
	require.NoError(t, err)
	require.Equal(t, []string{"psychology_study", "users_orders"}, names)
}

func TestLoad_UnknownDataset(t *testing.T) {
	_, err := Load("nope")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown dataset")

	_, err = Load(" ")
	require.Error(t, err)
}

func TestSeed_UsersOrders(t *testing.T) {
	ds, err := Load("users_orders")
	require.NoError(t, err)
	require.Equal(t, "test.db", ds.DefaultDB)

	db := openDB(t)
	res, err := Seed(context.Background(), db, ds)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"users": 2, "addresses": 2, "orders": 3}, res.Inserted)

	require.Len(t, res.Reports, 2)
	require.Equal(t, "users and their orders", res.Reports[0].Title)
	require.Equal(t, "[('John', 'Laptop'), ('John', 'Phone'), ('Jane', 'Tablet')]", sqldb.FormatRows(res.Reports[0].Rows))
	require.Equal(t, "[('John', 'john.doe@example.com'), ('Jane', 'jane.doe@example.com')]", sqldb.FormatRows(res.Reports[1].Rows))

	out, err := db.Run(context.Background(), "SELECT user_id, COUNT(*) FROM orders GROUP BY user_id ORDER BY user_id")
	require.NoError(t, err)
	require.Equal(t, "[(1, 2), (2, 1)]", out)
}

func TestSeed_IsIdempotent(t *testing.T) {
	ds, err := Load("users_orders")
	require.NoError(t, err)
	db := openDB(t)

	_, err = Seed(context.Background(), db, ds)
	require.NoError(t, err)
	res, err := Seed(context.Background(), db, ds)
	require.NoError(t, err)
	require.Equal(t, 0, res.Inserted["orders"])

	out, err := db.Run(context.Background(), "SELECT COUNT(*) FROM orders")
	require.NoError(t, err)
	require.Equal(t, "[(3,)]", out)
}

func TestSeed_PsychologyStudy(t *testing.T) {
	ds, err := Load("psychology_study")
	require.NoError(t, err)
	require.Len(t, ds.Tables, 7)

	db := openDB(t)
	res, err := Seed(context.Background(), db, ds)
	require.NoError(t, err)
	require.Equal(t, 3, res.Inserted["patients"])
	require.Equal(t, 4, res.Inserted["therapy_sessions"])

	require.Equal(t, "[('Mario Rossi', \"Disturbo d'ansia generalizzato\"), ('Luigi Bianchi', 'Depressione maggiore')]",
		sqldb.FormatRows(res.Reports[0].Rows))
	require.Len(t, res.Reports[1].Rows, 4)

	names, err := db.TableNames(context.Background())
	require.NoError(t, err)
	require.Contains(t, names, "progress_reports")
}

func TestSeed_NilDB(t *testing.T) {
	_, err := Seed(context.Background(), nil, Dataset{})
	require.Error(t, err)
}

func TestInsertStatement(t *testing.T) {
	got := insertStatement(Table{Name: "orders", Columns: []string{"id", "item", "user_id"}})
	require.Equal(t, "INSERT OR IGNORE INTO orders (id, item, user_id) VALUES (?, ?, ?)", got)
}
