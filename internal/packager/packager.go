// Package packager turns an IndexedSplitBatch into a PackagedSplitBatch:
// flushed segment files plus a hotcache sufficient to open the split with
// bounded IO (spec.md §4.4).
package packager

import (
	"encoding/binary"
	"log/slog"
	"os"

	"github.com/wessley-search/splitcore/internal/actor"
	"github.com/wessley-search/splitcore/internal/model"
)

// Packager consumes IndexedSplitBatch and produces PackagedSplitBatch. It
// is the last point where a split batch and its checkpoint delta move
// together — PackagedSplitBatch embeds both (spec.md §4.4).
type Packager struct {
	IndexID string
	Log     *slog.Logger

	In  *actor.Mailbox[model.IndexedSplitBatch]
	Out *actor.Mailbox[model.PackagedSplitBatch]
}

// New builds a Packager reading from in and writing to out.
func New(indexID string, log *slog.Logger, in *actor.Mailbox[model.IndexedSplitBatch], out *actor.Mailbox[model.PackagedSplitBatch]) *Packager {
	if log == nil {
		log = slog.Default()
	}
	return &Packager{IndexID: indexID, Log: log, In: in, Out: out}
}

func (p *Packager) Name() string { return "packager:" + p.IndexID }

func (p *Packager) Pool() actor.Pool { return actor.PoolBlocking }

func (p *Packager) Run(actorCtx *actor.Context) actor.ExitStatus {
	ctx := actorCtx.Ctx()
	for {
		select {
		case <-ctx.Done():
			return actor.ExitKilled
		case batch, ok := <-p.In.Chan():
			if !ok {
				return actor.ExitDownstreamClosed
			}
			actorCtx.Progress()
			out := p.packageBatch(batch)
			if err := p.Out.Send(ctx, out); err != nil {
				return actor.ExitDownstreamClosed
			}
		}
	}
}

// packageBatch packages every split in batch and carries the checkpoint
// delta through unchanged (spec.md §4.4).
func (p *Packager) packageBatch(batch model.IndexedSplitBatch) model.PackagedSplitBatch {
	packaged := make([]*model.PackagedSplit, 0, len(batch.Splits))
	for _, s := range batch.Splits {
		ps, err := p.packageSplit(batch.IndexID, s)
		if err != nil {
			p.Log.Error("packager: failed to package split", "index_id", batch.IndexID, "split_id", s.SplitID, "error", err)
			continue
		}
		packaged = append(packaged, ps)
	}
	return model.PackagedSplitBatch{
		IndexID:         batch.IndexID,
		Splits:          packaged,
		CheckpointDelta: batch.CheckpointDelta,
		DateOfBirth:     batch.DateOfBirth,
	}
}

// packageSplit builds the hotcache (spec.md §6's byte layout: the split's
// tail holds the hotcache and a metadata block; footer_offsets identify the
// byte range needed to open the split without reading the body) and
// assembles the final SplitMetadata.
func (p *Packager) packageSplit(indexID string, s *model.IndexedSplit) (*model.PackagedSplit, error) {
	hotcache, footer, err := buildHotcache(s.SegmentFiles)
	if err != nil {
		return nil, err
	}

	meta := model.SplitMetadata{
		SplitID:                     s.SplitID,
		IndexID:                     indexID,
		PartitionID:                 s.PartitionKey,
		NumDocs:                     s.NumValidDocs,
		UncompressedDocsSizeInBytes: totalSize(s.SegmentFiles),
		TimeRange:                   s.TimeRange,
		FooterOffsets:               footer,
		State:                       model.SplitStaged,
	}
	return &model.PackagedSplit{
		Metadata:      meta,
		SplitFiles:    s.SegmentFiles,
		HotcacheBytes: hotcache,
	}, nil
}

// buildHotcache encodes a length-prefixed sequence of (offset, size)
// records, one per segment file, in concatenation order — sufficient for a
// search leaf to open the split and know where each docstore block begins
// without reading the body (spec.md §6).
func buildHotcache(segmentFiles []string) ([]byte, model.ByteRange, error) {
	var buf []byte
	var offset int64
	for _, f := range segmentFiles {
		size, err := fileSize(f)
		if err != nil {
			return nil, model.ByteRange{}, err
		}
		var rec [16]byte
		binary.BigEndian.PutUint64(rec[0:8], uint64(offset))
		binary.BigEndian.PutUint64(rec[8:16], uint64(size))
		buf = append(buf, rec[:]...)
		offset += size
	}
	footer := model.ByteRange{Start: offset, End: offset + int64(len(buf))}
	return buf, footer, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, model.NewError(model.KindIO, "packager.fileSize", err)
	}
	return info.Size(), nil
}

func totalSize(files []string) int64 {
	var total int64
	for _, f := range files {
		if n, err := fileSize(f); err == nil {
			total += n
		}
	}
	return total
}
