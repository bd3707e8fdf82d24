package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_WriteVerbs(t *testing.T) {
	t.Parallel()
	tails := map[string]string{
		"INSERT":   " INTO users (id) VALUES (1)",
		"UPDATE":   " users SET name = 'x' WHERE id = 1",
		"DELETE":   " FROM users",
		"CREATE":   " TABLE t (id int)",
		"DROP":     " TABLE t",
		"ALTER":    " TABLE t ADD COLUMN c int",
		"TRUNCATE": " t",
		"GRANT":    " SELECT ON t TO bob",
		"REVOKE":   " SELECT ON t FROM bob",
	}
	assert.Len(t, tails, len(WriteVerbs))
	for _, verb := range WriteVerbs {
		tail := tails[verb]
		for _, sql := range []string{
			verb + tail,
			strings.ToLower(verb) + tail,
			"  \n\t" + verb + tail,
			"-- leading comment\n" + verb + tail,
			"/* block */ " + verb + tail,
			"/* outer /* nested */ still */\n" + strings.ToLower(verb) + tail,
		} {
			assert.Equal(t, Write, Classify(sql), sql)
		}
	}
}

func TestClassify_Reads(t *testing.T) {
	t.Parallel()
	for _, sql := range []string{
		"SELECT * FROM users",
		"select 1",
		"WITH x AS (SELECT 1) SELECT * FROM x",
		"EXPLAIN SELECT 1",
		"SHOW search_path",
		"VALUES (1), (2)",
		"(SELECT 1)",
		"-- DELETE FROM users\nSELECT 1",
		"/* DROP TABLE t */ SELECT 1",
		`SELECT 'DELETE'`,
		// MERGE and COPY mutate but are outside the fixed verb set.
		"MERGE INTO t USING s ON t.id = s.id WHEN MATCHED THEN DELETE",
		"COPY t FROM STDIN",
		"",
		"   ",
		"-- only a comment",
	} {
		assert.Equal(t, Read, Classify(sql), sql)
	}
}

func TestClassify_KeywordMustBeWholeToken(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Read, Classify("deleted_rows"))
	assert.Equal(t, Read, Classify(`"insert"`))
}

func TestClassify_UnscannableInputFallsBack(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Write, Classify("DELETE FROM t WHERE name = 'unterminated"))
	assert.Equal(t, Read, Classify("SELECT 'unterminated"))
	assert.Equal(t, Write, Classify("/* c */ update t set a = 'x"))
}

func TestClassify_KnownGapCTEMutationReadsAsRead(t *testing.T) {
	t.Parallel()
	sql := "WITH gone AS (DELETE FROM users RETURNING *) SELECT * FROM gone"
	assert.Equal(t, Read, Classify(sql))
}

func TestBatch(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Write, Batch("SELECT 1; DELETE FROM users"))
	assert.Equal(t, Write, Batch("select 1;\n-- c\ndrop table t;"))
	assert.Equal(t, Read, Batch("SELECT 1; SELECT 2"))
	assert.Equal(t, Read, Batch("SELECT ';DELETE FROM users'"))
	assert.Equal(t, Write, Batch("DELETE FROM users"))
	assert.Equal(t, Read, Batch(""))
}

func TestLeadingKeyword(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "SELECT", LeadingKeyword("  select 1"))
	assert.Equal(t, "WITH", LeadingKeyword("/* x */with a as (select 1) select 1"))
	assert.Equal(t, "", LeadingKeyword("/* only */"))
}

func TestLexicalKeyword(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "DELETE", lexicalKeyword("-- a\n-- b\n  delete from t"))
	assert.Equal(t, "INSERT", lexicalKeyword("/* a /* b */ c */insert into t"))
	assert.Equal(t, "", lexicalKeyword("/* never closed"))
	assert.Equal(t, "", lexicalKeyword("-- no newline"))
	assert.Equal(t, "", lexicalKeyword("(select 1)"))
	assert.Equal(t, "SELECT", lexicalKeyword("select(1)"))
}

func TestKindString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "READ", Read.String())
	assert.Equal(t, "WRITE", Write.String())
}
