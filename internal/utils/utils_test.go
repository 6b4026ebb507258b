package utils

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLogLevel(t *testing.T) {
	defer Log.SetLevel(logrus.InfoLevel)

	require.NoError(t, SetLogLevel("WARN"))
	assert.Equal(t, logrus.WarnLevel, Log.GetLevel())
	require.NoError(t, SetLogLevel("debug"))
	assert.Equal(t, logrus.DebugLevel, Log.GetLevel())
	assert.Error(t, SetLogLevel("verbose"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "a b", Truncate("a\n  b", 10))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
	assert.Equal(t, "a", Truncate("abc", 1))
	assert.Equal(t, "", Truncate("abc", 0))
	assert.Equal(t, "", Truncate("abc", -3))
}

func TestDBLockExcludesSecondHolder(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "db.sqlite")
	first, err := NewDBLock(dbPath)
	require.NoError(t, err)
	second, err := NewDBLock(dbPath)
	require.NoError(t, err)

	require.NoError(t, first.Lock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, second.Lock(ctx))

	require.NoError(t, first.Unlock())
	require.NoError(t, second.Lock(context.Background()))
	require.NoError(t, second.Unlock())
}

func TestGetAbsDBPathDefault(t *testing.T) {
	p, err := GetAbsDBPath("")
	require.NoError(t, err)
	assert.Equal(t, "shopsheet.sqlite", filepath.Base(p))
	assert.Equal(t, "shopsheet", filepath.Base(filepath.Dir(p)))
}
