// Package attribute stores attribute columns and applies patches to them.
//
// A column holds one value per document for a plain field, or one value per
// member field for a pack group. Columns are persisted as attr_<field> or
// pack_<group> files inside a segment directory.
//
// During a merge, a SequentialWriter receives the surviving values in new-id
// order and then the merged patch records of the column. Patches overwrite the
// value of a single (document, field) pair, so replaying the same patch twice
// yields the same column.
package attribute
