package segmerge_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/hupe1980/segmerge"
)

const exampleSchema = `
fields:
  - {id: 1, name: sku, type: uint64}
  - {id: 2, name: price, type: int64, updatable: true}
primary_key: {field: 1}
`

// Example_merge demonstrates patching two segments and merging them.
func Example_merge() {
	dir, err := os.MkdirTemp("", "segmerge-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	s, err := segmerge.ParseSchema([]byte(exampleSchema))
	if err != nil {
		log.Fatal(err)
	}
	tbl, err := segmerge.Open(dir, s)
	if err != nil {
		log.Fatal(err)
	}
	defer tbl.Close()

	ctx := context.Background()
	for id, skus := range map[segmerge.SegmentID][]uint64{1: {100, 101}, 2: {102}} {
		docs := make([]segmerge.Document, len(skus))
		for i, sku := range skus {
			docs[i] = segmerge.Document{1: segmerge.EncodeUint64(sku), 2: segmerge.EncodeInt64(int64(sku) * 10)}
		}
		if _, err := tbl.CreateSegment(ctx, id, 1, docs); err != nil {
			log.Fatal(err)
		}
	}

	// Reprice sku 101 and drop sku 100.
	if _, err := tbl.WritePatch(ctx, 1, 2, []segmerge.FieldUpdate{{Doc: 1, Field: 2, Value: segmerge.EncodeInt64(999)}}); err != nil {
		log.Fatal(err)
	}
	if err := tbl.Delete(ctx, 1, 0); err != nil {
		log.Fatal(err)
	}

	res, err := tbl.Merge(ctx, segmerge.Plan{Segments: []segmerge.SegmentID{1, 2}, Target: 3})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("docs=%d deleted=%d patches=%d\n", res.Info.DocCount, res.Deleted, res.Patches)

	doc, ok, err := tbl.Lookup(3, segmerge.EncodeUint64(101))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("sku 101 ->", doc, ok)
	// Output:
	// docs=2 deleted=1 patches=1
	// sku 101 -> 0 true
}

// Example_planFile demonstrates decoding a YAML merge plan.
func Example_planFile() {
	plan, err := segmerge.ParsePlan([]byte("segments: [4, 5, 6]\ntarget: 7\npatch_compression: zstd\n"))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(plan.Segments, plan.Target, plan.PatchCompression)
	// Output: [4 5 6] 7 zstd
}
