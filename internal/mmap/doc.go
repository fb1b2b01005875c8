// Package mmap maps files and anonymous memory for the primary-key tables
// and the local blob store.
//
// File mappings are read-only and shared. Anonymous mappings are private,
// zero-filled and writable; a pk table is built in one and then persisted
// with an ordinary write. Both are released by Close, after which Bytes
// returns nil.
//
//	m, err := mmap.Open(path)
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//	_ = m.Advise(mmap.AccessRandom) // hash probes
package mmap
