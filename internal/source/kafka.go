package source

import (
	"context"
	"strconv"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/wessley-search/splitcore/internal/actor"
	"github.com/wessley-search/splitcore/internal/checkpoint"
	"github.com/wessley-search/splitcore/internal/metastore"
	"github.com/wessley-search/splitcore/internal/model"
)

// KafkaSource consumes a topic by driving a kafka-go ConsumerGroup's
// generation protocol directly rather than its higher-level group Reader.
// The group Reader hides rebalances entirely, which left no seam to invoke
// Invalidate from; a Generation's per-partition Start callbacks are handed a
// context that the library cancels the instant the generation ends (broker
// rebalance), which is the real revocation signal spec.md §4.2 requires.
type KafkaSource struct {
	SourceID  string
	IndexID   string
	Topic     string
	Brokers   []string
	GroupID   string
	Backfill  bool
	BatchSize int

	Metastore metastore.Metastore

	cg        *kafka.ConsumerGroup
	msgs      chan kafka.Message
	revoked   chan struct{}
	lastKnown map[int]checkpoint.Position
	assigned  bool
}

// NewKafkaSource builds a KafkaSource; the ConsumerGroup and its first
// generation are joined lazily on the first EmitBatches call so the join
// handshake runs inside the actor's own goroutine rather than the
// constructor.
func NewKafkaSource(sourceID, indexID, topic string, brokers []string, groupID string, backfill bool, batchSize int, ms metastore.Metastore) *KafkaSource {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &KafkaSource{
		SourceID: sourceID, IndexID: indexID, Topic: topic, Brokers: brokers,
		GroupID: groupID, Backfill: backfill, BatchSize: batchSize, Metastore: ms,
	}
}

func (s *KafkaSource) EmitBatches(ctx context.Context, actorCtx *actor.Context, out Mailbox) (time.Duration, error) {
	if s.cg == nil {
		if err := s.open(); err != nil {
			return 0, err
		}
	}
	if s.revoked == nil {
		if err := s.joinGeneration(ctx); err != nil {
			return 0, model.NewError(model.KindIO, "KafkaSource.joinGeneration", err)
		}
	}

	exit := actorCtx.ProtectZone()
	defer exit()

	docs := make([]string, 0, s.BatchSize)
	partDeltas := make(map[int]*checkpoint.PartitionDelta)
	deadline := time.NewTimer(2 * time.Second)
	defer deadline.Stop()

	for len(docs) < s.BatchSize {
		select {
		case <-s.revoked:
			// Partitions were revoked mid-generation: Invalidate clears the
			// assignment state and the next EmitBatches call re-joins a
			// generation. Batches already sent are not recalled, and the
			// indexer's open workbench is not invalidated.
			s.Invalidate()
			s.msgs, s.revoked = nil, nil
			goto flush
		case m, ok := <-s.msgs:
			if !ok {
				goto flush
			}
			docs = append(docs, string(m.Value))
			to := checkpoint.Offset(uint64(m.Offset))
			if pd, seen := partDeltas[m.Partition]; seen {
				pd.To = to
			} else {
				partDeltas[m.Partition] = &checkpoint.PartitionDelta{From: s.lastKnown[m.Partition], To: to}
			}
			s.lastKnown[m.Partition] = to
		case <-deadline.C:
			goto flush
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
flush:
	if len(docs) == 0 {
		return 250 * time.Millisecond, nil
	}

	delta := checkpoint.SourceCheckpointDelta{}
	for partition, pd := range partDeltas {
		delta[checkpoint.PartitionID(strconv.Itoa(partition))] = *pd
	}
	batch := model.RawDocBatch{
		Docs: docs,
		CheckpointDelta: checkpoint.IndexCheckpointDelta{
			SourceID:    s.SourceID,
			SourceDelta: delta,
		},
	}
	if err := out.Send(ctx, batch); err != nil {
		return 0, err
	}
	return 0, nil
}

func (s *KafkaSource) open() error {
	cg, err := kafka.NewConsumerGroup(kafka.ConsumerGroupConfig{
		ID:      s.GroupID,
		Brokers: s.Brokers,
		Topics:  []string{s.Topic},
	})
	if err != nil {
		return model.NewError(model.KindIO, "KafkaSource.NewConsumerGroup", err)
	}
	s.cg = cg
	s.lastKnown = make(map[int]checkpoint.Position)
	return nil
}

// joinGeneration blocks until the group coordinator hands this member a
// generation, then seeds one reader goroutine per assigned partition
// (preferring the metastore's checkpointed position over the group's
// committed offset, per spec.md §4.2) plus a sentinel goroutine whose sole
// job is to observe the generation's cancellation and close s.revoked.
func (s *KafkaSource) joinGeneration(ctx context.Context) error {
	gen, err := s.cg.Next(ctx)
	if err != nil {
		return err
	}

	ckpt, err := s.checkpointFor(ctx)
	if err != nil {
		return err
	}

	s.msgs = make(chan kafka.Message, s.BatchSize)
	s.revoked = make(chan struct{})
	revoked := s.revoked
	s.lastKnown = make(map[int]checkpoint.Position)

	gen.Start(func(ctx context.Context) {
		<-ctx.Done()
		close(revoked)
	})

	for _, a := range gen.Assignments[s.Topic] {
		partition, startOffset := a.ID, a.Offset
		if s.Backfill && startOffset <= 0 {
			startOffset = kafka.FirstOffset
		}
		if pos, ok := ckpt[checkpoint.PartitionID(strconv.Itoa(partition))]; ok {
			s.lastKnown[partition] = pos
			if n, ok := pos.NumericOffset(); ok {
				startOffset = int64(n) + 1
			}
		}
		msgs := s.msgs
		gen.Start(func(ctx context.Context) {
			s.consumePartition(ctx, partition, startOffset, msgs)
		})
	}
	s.assigned = true
	return nil
}

// consumePartition drives a single non-group Reader pinned to partition,
// forwarding messages until its generation ends. Outside a consumer group,
// SetOffset is valid (the group membership itself is owned by s.cg, not by
// this reader), which is what lets a rejoined generation resume at the
// metastore checkpoint instead of wherever the broker last left off.
func (s *KafkaSource) consumePartition(ctx context.Context, partition int, startOffset int64, msgs chan<- kafka.Message) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   s.Brokers,
		Topic:     s.Topic,
		Partition: partition,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffset(startOffset); err != nil {
		return
	}
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			return
		}
		select {
		case msgs <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (s *KafkaSource) checkpointFor(ctx context.Context) (checkpoint.SourceCheckpoint, error) {
	meta, err := s.Metastore.IndexMetadata(ctx, s.IndexID)
	if err != nil {
		return nil, err
	}
	return meta.Checkpoint[s.SourceID], nil
}

// SuggestTruncate is a no-op: Kafka retention is managed by the broker, not
// by this source (spec.md §4.2).
func (s *KafkaSource) SuggestTruncate(ctx context.Context, ck checkpoint.SourceCheckpoint) error {
	return nil
}

// Invalidate drops the current generation's assignment state. It is called
// from EmitBatches the moment a generation's Start context is canceled
// (partition revocation); the next EmitBatches call re-joins a generation,
// and joinGeneration reseeds each partition's position from the metastore
// checkpoint rather than keeping what this generation had accumulated.
// Invalidate does not reach the indexer's workbench.
func (s *KafkaSource) Invalidate() {
	s.assigned = false
}

// Close releases the consumer group membership. The pipeline calls this on
// shutdown the same way it calls FileSource.Close.
func (s *KafkaSource) Close() error {
	if s.cg == nil {
		return nil
	}
	return s.cg.Close()
}

var _ Source = (*KafkaSource)(nil)
