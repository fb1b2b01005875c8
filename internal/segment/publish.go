package segment

import (
	"path"

	"github.com/hashicorp/go-multierror"
	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/model"
)

// markerSuffix names the parked segment_info of a directory being published.
const markerSuffix = ".info"

// IsCommitted reports whether the directory of segment id below root holds a
// segment_info file. Directories without one are incomplete.
func IsCommitted(root fs.Directory, id model.SegmentID) (bool, error) {
	return root.Sub(DirName(id)).Exists(InfoFile)
}

// RemoveUncommitted deletes the directory of segment id if it exists without
// a segment_info file, as left behind by an interrupted Publish.
func RemoveUncommitted(root fs.Directory, id model.SegmentID) (bool, error) {
	committed, err := IsCommitted(root, id)
	if err != nil || committed {
		return false, err
	}
	exists, err := root.Exists(DirName(id))
	if err != nil || !exists {
		return false, err
	}
	return true, root.RemoveAll(DirName(id))
}

// Publish moves the finished segment directory tmp below root to the
// directory of segment id. segment_info moves last and commits the segment.
//
// Blob stores move a directory one key at a time, so on failure everything
// already moved below the target is removed again. tmp itself is left to
// the caller.
func Publish(root fs.Directory, tmp string, id model.SegmentID) (err error) {
	dst := DirName(id)
	marker := tmp + markerSuffix
	defer func() {
		if err == nil {
			return
		}
		for _, name := range []string{dst, marker} {
			if rerr := root.RemoveAll(name); rerr != nil {
				err = multierror.Append(err, rerr)
			}
		}
	}()

	if err := root.Rename(path.Join(tmp, InfoFile), marker); err != nil {
		return err
	}
	if err := root.Rename(tmp, dst); err != nil {
		return err
	}
	return root.Rename(marker, path.Join(dst, InfoFile))
}
