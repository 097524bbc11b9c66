package lint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ambiguousSource = `package sample

type Input struct {
	Name string ` + "`cog:\"name=name,default=nil\"`" + `
	Age  *int   ` + "`cog:\"name=age,default=nil\"`" + `
}
`

func TestCheckFile_FlagsNonPointerNilDefault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "sample.go")
	require.NoError(t, os.WriteFile(path, []byte(ambiguousSource), 0o644))

	findings, err := CheckFile(path)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "Name", findings[0].FieldName)
	assert.Equal(t, "Input", findings[0].StructName)
}

const cleanSource = `package sample

type Input struct {
	Name *string ` + "`cog:\"name=name,default=nil\"`" + `
}
`

func TestCheckFile_AllowsPointerNilDefault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "sample.go")
	require.NoError(t, os.WriteFile(path, []byte(cleanSource), 0o644))

	findings, err := CheckFile(path)
	require.NoError(t, err)
	assert.Empty(t, findings)
}
