package main

import (
	"bytes"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sqlmock "gopkg.in/DATA-DOG/go-sqlmock.v1"

	"tempmail/mailbot/internal/storage/migrations"
)

func TestApply(t *testing.T) {
	t.Run("按顺序执行回滚语句", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta("DROP TABLE IF EXISTS mails")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("DROP TABLE IF EXISTS users")).WillReturnResult(sqlmock.NewResult(0, 0))

		var out bytes.Buffer
		require.NoError(t, apply(db, "postgres", migrations.Down, &out))
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.Contains(t, out.String(), "迁移成功完成")
	})

	t.Run("语句失败时停止", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta("DROP TABLE IF EXISTS mails")).WillReturnError(errors.New("permission denied"))

		err = apply(db, "postgres", migrations.Down, &bytes.Buffer{})
		assert.ErrorContains(t, err, "permission denied")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("不支持的数据库", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		assert.Error(t, apply(db, "sqlite", migrations.Up, &bytes.Buffer{}))
	})
}

func TestResolveTarget(t *testing.T) {
	env := func(values map[string]string) func(string) string {
		return func(key string) string { return values[key] }
	}

	dialect, dsn, err := resolveTarget("mysql", "user:pass@tcp(localhost:3306)/mail", env(nil))
	require.NoError(t, err)
	assert.Equal(t, "mysql", dialect)
	assert.Equal(t, "user:pass@tcp(localhost:3306)/mail", dsn)

	dialect, dsn, err = resolveTarget("", "", env(map[string]string{"DATABASE_URL": "postgres://u@h/db"}))
	require.NoError(t, err)
	assert.Equal(t, "postgres", dialect)
	assert.Equal(t, "postgres://u@h/db", dsn)

	_, _, err = resolveTarget("", "", env(nil))
	assert.Error(t, err)

	_, _, err = resolveTarget("oracle", "dsn", env(nil))
	assert.Error(t, err)
}
