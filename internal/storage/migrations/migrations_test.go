package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	input := `
-- leading comment
CREATE TABLE a (x UInt64) ENGINE = MergeTree() ORDER BY x;

-- second
CREATE TABLE b (
    y String
) ENGINE = MergeTree() ORDER BY y;
`
	stmts := splitStatements(input)
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE a"))
	assert.Contains(t, stmts[1], "y String")
	assert.NotContains(t, stmts[1], "--")
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings("SELECT 'a''b'; SELECT 1;"))
	assert.NoError(t, validateNoSemicolonInStrings("SELECT ''; SELECT 1;"))
	assert.ErrorIs(t, validateNoSemicolonInStrings("SELECT 'a;b';"), errSemicolonInString)
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default@localhost:9000/ledger")
	require.NoError(t, err)
	assert.Equal(t, "ledger", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}

func TestEmbeddedMigrations(t *testing.T) {
	pg, err := load("postgres")
	require.NoError(t, err)
	require.NotEmpty(t, pg)
	for i := 1; i < len(pg); i++ {
		assert.Less(t, pg[i-1].name, pg[i].name)
	}
	assert.Equal(t, "005_distribution_runs.sql", pg[len(pg)-1].name)

	ch, err := load("clickhouse")
	require.NoError(t, err)
	require.NotEmpty(t, ch)
	for _, m := range ch {
		assert.NoError(t, validateNoSemicolonInStrings(m.sql), m.name)
		assert.NotEmpty(t, splitStatements(m.sql), m.name)
	}
}
