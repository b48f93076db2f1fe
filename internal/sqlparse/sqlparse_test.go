package sqlparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	cases := []struct {
		name string
		sql  string
		want []string
	}{
		{
			name: "single statement",
			sql:  "select 1",
			want: []string{"select 1"},
		},
		{
			name: "two statements",
			sql:  "select 1; select 2",
			want: []string{"select 1", "select 2"},
		},
		{
			name: "trailing semicolon",
			sql:  "select 1;",
			want: []string{"select 1"},
		},
		{
			name: "semicolon inside string literal",
			sql:  "insert into t values ('a;b'); select 2",
			want: []string{"insert into t values ('a;b')", "select 2"},
		},
		{
			name: "whitespace between statements",
			sql:  "select 1 ;\n  select 2 ;",
			want: []string{"select 1", "select 2"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Split(tc.sql)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	assert.True(t, Validate("select * from users"))
	assert.True(t, Validate("insert into t values (1)"))
	// Out-of-grammar statements pass through; the backend decides.
	assert.True(t, Validate("SHOW server_version"))
	assert.True(t, Validate("SET search_path TO public"))
	assert.False(t, Validate(""))
	assert.False(t, Validate("   "))
	assert.False(t, Validate("select from from"))
}

func TestParse(t *testing.T) {
	stmt, err := Parse("select id from users where id = 1")
	require.NoError(t, err)
	assert.NotNil(t, stmt)

	_, err = Parse("not really sql at all ;;")
	assert.Error(t, err)
}
