package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/segmerge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
fields:
  - {id: 1, name: sku, type: uint64}
  - {id: 2, name: price, type: int64, updatable: true}
  - {id: 3, name: name, type: string}
primary_key: {field: 1}
`

func setup(t *testing.T) (root, schemaPath string) {
	t.Helper()
	dir := t.TempDir()
	root = filepath.Join(dir, "table")
	schemaPath = filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(schemaPath, []byte(testSchema), 0o600))

	s, err := segmerge.LoadSchemaFile(schemaPath)
	require.NoError(t, err)
	tbl, err := segmerge.Open(root, s)
	require.NoError(t, err)
	defer tbl.Close()

	ctx := context.Background()
	doc := func(sku uint64, price int64, name string) segmerge.Document {
		return segmerge.Document{1: segmerge.EncodeUint64(sku), 2: segmerge.EncodeInt64(price), 3: []byte(name)}
	}
	_, err = tbl.CreateSegment(ctx, 1, 1, []segmerge.Document{doc(10, 100, "a"), doc(11, 110, "b")})
	require.NoError(t, err)
	_, err = tbl.CreateSegment(ctx, 2, 1, []segmerge.Document{doc(12, 120, "c")})
	require.NoError(t, err)
	return root, schemaPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(context.Background(), append([]string{"segmerge"}, args...))
	return out.String(), err
}

func TestCLI_PatchDeleteMergeInspect(t *testing.T) {
	root, schemaPath := setup(t)
	global := []string{"--schema", schemaPath, "--root", root}

	out, err := run(t, append(global, "patch", "--segment", "1", "--version", "2", "1:2=115", "0:2=101")...)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 2 patch records")

	out, err = run(t, append(global, "inspect", "patch", "--segment", "1", "--field", "2")...)
	require.NoError(t, err)
	assert.Equal(t, "0\t2\t101\n1\t2\t115\n", out)

	out, err = run(t, append(global, "delete", "--segment", "1", "0")...)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 1 documents")

	out, err = run(t, append(global, "merge", "--segments", "1,2", "--target", "3")...)
	require.NoError(t, err)
	assert.Contains(t, out, "merged [1 2] into segment 3")
	assert.Contains(t, out, "docs: 2 (reclaimed 1)")
	assert.Contains(t, out, "patches applied: 1")

	out, err = run(t, append(global, "inspect", "values", "--segment", "3", "--field", "2")...)
	require.NoError(t, err)
	assert.Equal(t, "0\t115\n1\t120\n", out)

	out, err = run(t, append(global, "inspect", "pk", "--segment", "3", "--key", "12")...)
	require.NoError(t, err)
	assert.Equal(t, "doc 1\n", out)

	out, err = run(t, append(global, "inspect", "reclaim", "--segment", "3")...)
	require.NoError(t, err)
	assert.Contains(t, out, "docs: 3 total, 2 live, 1 reclaimed")

	out, err = run(t, append(global, "segments", "--json")...)
	require.NoError(t, err)
	assert.Contains(t, out, `"MergedFrom": [`)
}

func TestCLI_PlanFile(t *testing.T) {
	root, schemaPath := setup(t)
	plan := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(plan, []byte("segments: [2, 1]\ntarget: 5\n"), 0o600))

	out, err := run(t, "--schema", schemaPath, "--root", root, "merge", "--plan", plan, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"DocCount": 3`)

	_, err = run(t, "--schema", schemaPath, "--root", root, "merge", "--plan", plan)
	assert.ErrorIs(t, err, segmerge.ErrInvalidPlan)
}

func TestCLI_Errors(t *testing.T) {
	root, schemaPath := setup(t)
	global := []string{"--schema", schemaPath, "--root", root}

	_, err := run(t, append(global, "patch", "--segment", "1", "--version", "2", "garbage")...)
	assert.Error(t, err)
	_, err = run(t, append(global, "patch", "--segment", "1", "--version", "2", "0:1=5")...)
	assert.ErrorIs(t, err, segmerge.ErrInvalidArgument)
	_, err = run(t, append(global, "delete", "--segment", "1", "7")...)
	var dr *segmerge.ErrInvalidDeletionRange
	assert.ErrorAs(t, err, &dr)
	_, err = run(t, "--schema", schemaPath, "--root", root, "--store", "minio", "segments")
	assert.ErrorContains(t, err, "--bucket is required")
	_, err = run(t, "--schema", schemaPath, "--root", root, "--log-level", "loud", "segments")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestParseSegmentIDs(t *testing.T) {
	ids, err := parseSegmentIDs([]string{"1,2", " 3 ", ""})
	require.NoError(t, err)
	assert.Equal(t, []segmerge.SegmentID{1, 2, 3}, ids)

	_, err = parseSegmentIDs([]string{"x"})
	assert.Error(t, err)
}
