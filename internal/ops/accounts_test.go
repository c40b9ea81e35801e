package ops

import (
	"os"
	"path/filepath"
	"testing"

	"hedgebot/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccounts(t *testing.T) {
	ids, err := ParseAccounts([]byte("# main\nacc-1\n\n  acc-2  \n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"acc-1", "acc-2"}, ids)

	ids, err = ParseAccounts([]byte(` ["a", "b", "c"] `))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	_, err = ParseAccounts([]byte("a\na\n"))
	assert.ErrorIs(t, err, exception.ErrPoolDuplicateAccount)
	_, err = ParseAccounts([]byte(`["a", ""]`))
	assert.Error(t, err)
	_, err = ParseAccounts([]byte("# nothing\n"))
	assert.ErrorIs(t, err, exception.ErrPoolEmpty)
	_, err = ParseAccounts([]byte(`["a",`))
	assert.Error(t, err)
}

func TestLoadAccounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.txt")
	require.NoError(t, os.WriteFile(path, []byte("x\ny\n"), 0o644))
	ids, err := LoadAccounts(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, ids)

	_, err = LoadAccounts(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
