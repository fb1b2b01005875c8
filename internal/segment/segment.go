package segment

import (
	"fmt"

	"github.com/hupe1980/segmerge/internal/deletion"
	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/model"
)

// Segment is a loaded segment directory.
type Segment struct {
	Dir       fs.Directory
	Info      Info
	Options   FormatOptions
	Deletions *deletion.Bitmap
}

// Open loads the metadata of the segment stored in dir.
func Open(dir fs.Directory) (*Segment, error) {
	info, err := ReadInfo(dir)
	if err != nil {
		return nil, err
	}
	opts, err := ReadFormatOptions(dir)
	if err != nil {
		return nil, err
	}
	dels, err := deletion.Read(dir)
	if err != nil {
		return nil, err
	}
	// The deletion map is authoritative; segment_info may predate it.
	info.DeletedCount = uint32(dels.Cardinality())

	return &Segment{Dir: dir, Info: info, Options: opts, Deletions: dels}, nil
}

// OpenAll loads the segments with the given ids below root, in that order.
func OpenAll(root fs.Directory, ids []model.SegmentID) ([]*Segment, error) {
	segs := make([]*Segment, 0, len(ids))
	for _, id := range ids {
		s, err := Open(root.Sub(DirName(id)))
		if err != nil {
			return nil, fmt.Errorf("open segment %d: %w", id, err)
		}
		if s.Info.ID != id {
			return nil, fmt.Errorf("%w: directory %s holds segment %d", ErrInvalidInfo, DirName(id), s.Info.ID)
		}
		segs = append(segs, s)
	}
	return segs, nil
}

// Infos returns the infos of segs.
func Infos(segs []*Segment) []Info {
	infos := make([]Info, len(segs))
	for i, s := range segs {
		infos[i] = s.Info
	}
	return infos
}
