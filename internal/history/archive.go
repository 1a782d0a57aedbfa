package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const (
	// archiveBatchSize caps how many samples one sweep folds into a
	// single archive row.
	archiveBatchSize = 10000

	maxDecompressedSize = 256 * 1024 * 1024
)

// Compressor squeezes expired sample batches before they land in the
// archive table.
type Compressor struct {
	level int

	encoderOnce sync.Once
	encoder     *zstd.Encoder
	encoderErr  error

	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
}

// NewCompressor creates a zstd compressor. Level must be 1-19.
func NewCompressor(level int) (*Compressor, error) {
	if level < 1 || level > 19 {
		return nil, fmt.Errorf("invalid zstd level %d: must be 1-19", level)
	}
	return &Compressor{level: level}, nil
}

func (c *Compressor) getEncoder() (*zstd.Encoder, error) {
	c.encoderOnce.Do(func() {
		c.encoder, c.encoderErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.level)),
			zstd.WithEncoderConcurrency(1),
		)
	})
	return c.encoder, c.encoderErr
}

func (c *Compressor) getDecoder() (*zstd.Decoder, error) {
	c.decoderOnce.Do(func() {
		c.decoder, c.decoderErr = zstd.NewReader(nil,
			zstd.WithDecoderMaxMemory(maxDecompressedSize),
		)
	})
	return c.decoder, c.decoderErr
}

// Compress returns the zstd-compressed form of data.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	encoder, err := c.getEncoder()
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

// Decompress reverses Compress.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	decoder, err := c.getDecoder()
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

// Archiver rolls samples past the retention window into compressed
// archives and prunes the live table.
type Archiver struct {
	store         Store
	comp          *Compressor
	retention     time.Duration
	sweepInterval time.Duration
	log           *zap.Logger

	now func() time.Time
}

// NewArchiver wires an archiver over the given store. Retention at or
// below zero keeps samples for 24h; sweepInterval at or below zero
// sweeps hourly.
func NewArchiver(store Store, comp *Compressor, retention, sweepInterval time.Duration, log *zap.Logger) *Archiver {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	return &Archiver{
		store:         store,
		comp:          comp,
		retention:     retention,
		sweepInterval: sweepInterval,
		log:           log,
		now:           time.Now,
	}
}

// Start sweeps on the configured interval until the context ends.
func (a *Archiver) Start(ctx context.Context) {
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()

	a.log.Info("history archiver started",
		zap.Duration("retention", a.retention),
		zap.Duration("sweep_interval", a.sweepInterval))

	for {
		select {
		case <-ctx.Done():
			a.log.Info("history archiver stopped")
			return
		case <-ticker.C:
			if err := a.SweepOnce(ctx); err != nil {
				a.log.Error("history sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce archives and deletes every sample older than the retention
// cutoff. Samples are archived before deletion; a failed archive write
// leaves the live rows untouched.
func (a *Archiver) SweepOnce(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-a.retention)

	for {
		batch, err := a.store.OlderThan(ctx, cutoff, archiveBatchSize)
		if err != nil {
			return fmt.Errorf("list expired samples: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		payload, err := json.Marshal(batch)
		if err != nil {
			return fmt.Errorf("encode sample batch: %w", err)
		}
		compressed, err := a.comp.Compress(payload)
		if err != nil {
			return fmt.Errorf("compress sample batch: %w", err)
		}

		arch := &Archive{
			FromTime:    batch[0].TakenAt,
			ToTime:      batch[len(batch)-1].TakenAt,
			SampleCount: len(batch),
			Payload:     compressed,
			CreatedAt:   a.now().UTC(),
		}
		if err := a.store.PutArchive(ctx, arch); err != nil {
			return fmt.Errorf("store archive: %w", err)
		}

		// Deleting up to the batch's own upper bound keeps rows that
		// arrived between list and delete.
		deleteBefore := arch.ToTime.Add(time.Nanosecond)
		if deleteBefore.After(cutoff) {
			deleteBefore = cutoff
		}
		deleted, err := a.store.DeleteOlderThan(ctx, deleteBefore)
		if err != nil {
			return fmt.Errorf("prune archived samples: %w", err)
		}

		a.log.Info("archived expired samples",
			zap.Int("samples", arch.SampleCount),
			zap.Int("compressed_bytes", len(compressed)),
			zap.Int64("pruned", deleted),
			zap.Time("from", arch.FromTime),
			zap.Time("to", arch.ToTime))

		if len(batch) < archiveBatchSize {
			return nil
		}
	}
}
