package segment

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/segmerge/internal/frame"
	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/model"
)

const (
	infoMagic   = 0x534d5349 // "SMSI"
	infoVersion = 1
)

// ErrInvalidInfo is returned when segment_info is inconsistent.
var ErrInvalidInfo = errors.New("invalid segment info")

// Info is the persisted descriptor of a segment.
type Info struct {
	ID           model.SegmentID
	DocCount     uint32
	DeletedCount uint32
	// Version is the segment generation token.
	Version model.Version
	// LastLoadedVersion is the newest patch version already materialized in
	// the attribute columns. Packed patches at or below it are skipped.
	LastLoadedVersion model.Version
	CreatedAt         time.Time
	// MergedFrom lists the source segments of a merged segment.
	MergedFrom []model.SegmentID
}

// Descriptor returns the segment descriptor with the given base offset.
func (i Info) Descriptor(base model.DocID) model.SegmentDescriptor {
	return model.SegmentDescriptor{
		ID:           i.ID,
		DocCount:     i.DocCount,
		DeletedCount: i.DeletedCount,
		BaseDocID:    base,
	}
}

// Descriptors lays out segments back to back in input order.
func Descriptors(infos []Info) []model.SegmentDescriptor {
	descs := make([]model.SegmentDescriptor, len(infos))
	var base model.DocID
	for i, info := range infos {
		descs[i] = info.Descriptor(base)
		base += model.DocID(info.DocCount)
	}
	return descs
}

// WriteInfo writes segment_info into dir.
func WriteInfo(dir fs.Directory, info Info) error {
	if info.DeletedCount > info.DocCount {
		return fmt.Errorf("%w: deleted %d > docs %d", ErrInvalidInfo, info.DeletedCount, info.DocCount)
	}

	pb := frame.NewBuffer(make([]byte, 0, 48+8*len(info.MergedFrom)))
	pb.WriteUint64(uint64(info.ID))
	pb.WriteUint32(info.DocCount)
	pb.WriteUint32(info.DeletedCount)
	pb.WriteUint64(uint64(info.Version))
	pb.WriteUint64(uint64(info.LastLoadedVersion))
	pb.WriteUint64(uint64(info.CreatedAt.UnixNano()))
	pb.WriteUint32(uint32(len(info.MergedFrom)))
	for _, id := range info.MergedFrom {
		pb.WriteUint64(uint64(id))
	}
	if err := pb.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := frame.Write(&buf, infoMagic, infoVersion, pb.Bytes()); err != nil {
		return err
	}
	return fs.WriteFile(dir, InfoFile, buf.Bytes())
}

// ReadInfo reads segment_info from dir.
func ReadInfo(dir fs.Directory) (Info, error) {
	f, err := dir.OpenForRead(InfoFile)
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = f.Close() }()

	_, payload, err := frame.Read(f, infoMagic, infoVersion)
	if err != nil {
		return Info{}, fmt.Errorf("read %s/%s: %w", dir.Path(), InfoFile, err)
	}

	pb := frame.NewBuffer(payload)
	var info Info
	info.ID = model.SegmentID(pb.ReadUint64())
	info.DocCount = pb.ReadUint32()
	info.DeletedCount = pb.ReadUint32()
	info.Version = model.Version(pb.ReadUint64())
	info.LastLoadedVersion = model.Version(pb.ReadUint64())
	info.CreatedAt = time.Unix(0, int64(pb.ReadUint64()))
	n := pb.ReadUint32()
	if pb.Err() == nil && int(n) > pb.Remaining()/8 {
		return Info{}, fmt.Errorf("%w: %d source segments in %d bytes", ErrInvalidInfo, n, pb.Remaining())
	}
	for range n {
		info.MergedFrom = append(info.MergedFrom, model.SegmentID(pb.ReadUint64()))
	}
	if err := pb.Err(); err != nil {
		return Info{}, fmt.Errorf("decode %s/%s: %w", dir.Path(), InfoFile, err)
	}
	if info.DeletedCount > info.DocCount {
		return Info{}, fmt.Errorf("%w: deleted %d > docs %d", ErrInvalidInfo, info.DeletedCount, info.DocCount)
	}
	return info, nil
}
