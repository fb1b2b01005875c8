// Package schema describes the attribute fields of a table as far as merging
// is concerned: which fields can be patched, how fields are packed into
// groups that share one physical column, the optional sort key of a
// sort-merge, and the primary-key field.
//
// Schemas are loaded from YAML:
//
//	fields:
//	  - {id: 1, name: price, type: int64, updatable: true}
//	  - {id: 2, name: title, type: string, updatable: true}
//	  - {id: 3, name: stock, type: uint64, updatable: true}
//	  - {id: 4, name: sku, type: bytes}
//	pack_groups:
//	  - {id: 100, name: inventory, fields: [1, 3]}
//	primary_key: {field: 4, width: 64}
//	sort_by:
//	  - {field: 1, descending: true}
//
// Field and pack group ids share one id space. The n-th field of a pack group
// owns bit n of the sub-field bitmap of packed patch records, so a group holds
// at most 32 fields.
package schema
