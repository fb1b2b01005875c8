package segment

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/hupe1980/segmerge/internal/deletion"
	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/model"
)

// Fixed file names inside a segment directory.
const (
	InfoFile          = "segment_info"
	FormatOptionsFile = "format_options"
	PKFile            = "pk"
	ReclaimMapFile    = "reclaim_map"
	DeletionMapFile   = deletion.FileName
)

const (
	dirPrefix       = "segment_"
	attrPrefix      = "attr_"
	packPrefix      = "pack_"
	patchPrefix     = "patch_"
	packPatchPrefix = "patchpack_"
)

// DirName returns the directory name of segment id.
func DirName(id model.SegmentID) string {
	return dirPrefix + strconv.FormatUint(uint64(id), 10)
}

// ParseDirName parses a segment directory name.
func ParseDirName(name string) (model.SegmentID, bool) {
	rest, ok := strings.CutPrefix(name, dirPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return model.SegmentID(id), true
}

// ColumnFile returns the attribute column file of a plain field or a pack group.
func ColumnFile(id model.FieldID, packed bool) string {
	if packed {
		return packPrefix + strconv.FormatUint(uint64(id), 10)
	}
	return attrPrefix + strconv.FormatUint(uint64(id), 10)
}

// PatchFile returns the file name of one patch generation.
func PatchFile(id model.FieldID, packed bool, gen uint32) string {
	prefix := patchPrefix
	if packed {
		prefix = packPatchPrefix
	}
	return fmt.Sprintf("%s%d.%d", prefix, id, gen)
}

// PatchFileName is a parsed patch file name.
type PatchFileName struct {
	ID         model.FieldID
	Packed     bool
	Generation uint32
}

// ParsePatchFile parses a patch file name.
func ParsePatchFile(name string) (PatchFileName, bool) {
	var p PatchFileName
	rest, ok := strings.CutPrefix(name, packPatchPrefix)
	if ok {
		p.Packed = true
	} else if rest, ok = strings.CutPrefix(name, patchPrefix); !ok {
		return p, false
	}

	idStr, genStr, ok := strings.Cut(rest, ".")
	if !ok {
		return p, false
	}
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return p, false
	}
	gen, err := strconv.ParseUint(genStr, 10, 32)
	if err != nil {
		return p, false
	}
	p.ID = model.FieldID(id)
	p.Generation = uint32(gen)
	return p, true
}

// PatchGenerations returns the patch generations of a column in ascending order.
func PatchGenerations(dir fs.Directory, id model.FieldID, packed bool) ([]uint32, error) {
	prefix := patchPrefix
	if packed {
		prefix = packPatchPrefix
	}
	names, err := dir.List(prefix)
	if err != nil {
		return nil, err
	}
	var gens []uint32
	for _, name := range names {
		p, ok := ParsePatchFile(name)
		if !ok || p.Packed != packed || p.ID != id {
			continue
		}
		gens = append(gens, p.Generation)
	}
	slices.Sort(gens)
	return gens, nil
}

// NextPatchGeneration returns the generation number for a new patch file.
func NextPatchGeneration(dir fs.Directory, id model.FieldID, packed bool) (uint32, error) {
	gens, err := PatchGenerations(dir, id, packed)
	if err != nil {
		return 0, err
	}
	if len(gens) == 0 {
		return 0, nil
	}
	return gens[len(gens)-1] + 1, nil
}

// ListSegments returns the ids of all committed segment directories in dir,
// ascending.
func ListSegments(dir fs.Directory) ([]model.SegmentID, error) {
	names, err := dir.List(dirPrefix)
	if err != nil {
		return nil, err
	}
	var ids []model.SegmentID
	for _, name := range names {
		id, ok := ParseDirName(name)
		if !ok {
			continue
		}
		committed, err := IsCommitted(dir, id)
		if err != nil {
			return nil, err
		}
		if committed {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}
