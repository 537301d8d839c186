package memory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/okian/backr/internal/adapters/repository"
	"github.com/okian/backr/pkg/logger"
	"github.com/okian/backr/pkg/metrics"
)

const snapshotFormat = 1

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("memory: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("memory: zstd decoder initialization failed: " + err.Error())
	}
}

type snapshotFile struct {
	Format    int           `cbor:"1,keyasint"`
	Seq       int64         `cbor:"2,keyasint"`
	Documents []snapshotDoc `cbor:"3,keyasint"`
}

type snapshotDoc struct {
	Collection string         `cbor:"1,keyasint"`
	ID         string         `cbor:"2,keyasint"`
	Seq        int64          `cbor:"3,keyasint"`
	Version    int64          `cbor:"4,keyasint"`
	CreatedAt  int64          `cbor:"5,keyasint"`
	UpdatedAt  int64          `cbor:"6,keyasint"`
	Fields     map[string]any `cbor:"7,keyasint"`
}

func (s *Store) startPeriodicSnapshots() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.snapshotInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				if !s.dirty.Swap(false) {
					continue
				}
				if err := s.saveSnapshot(); err != nil {
					s.dirty.Store(true)
					s.logger.Error(context.Background(), "snapshot failed",
						logger.String("path", s.snapshotPath), logger.Error(err))
				}
			}
		}
	}()
}

// saveSnapshot writes every document to a temporary file and renames it over
// the snapshot path.
func (s *Store) saveSnapshot() error {
	start := time.Now()

	s.mu.RLock()
	file := snapshotFile{Format: snapshotFormat, Seq: s.seq}
	for _, coll := range s.collections {
		for _, d := range coll {
			file.Documents = append(file.Documents, snapshotDoc{
				Collection: d.Collection,
				ID:         d.ID,
				Seq:        d.Seq,
				Version:    d.Version,
				CreatedAt:  repository.ToMillis(d.CreatedAt),
				UpdatedAt:  repository.ToMillis(d.UpdatedAt),
				Fields:     d.Fields,
			})
		}
	}
	raw, err := repository.Marshal(file)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	compressed := zstdEncoder.EncodeAll(raw, nil)
	dir := filepath.Dir(s.snapshotPath)
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.snapshotPath); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}

	metrics.RecordStoreSnapshot(float64(time.Since(start).Microseconds())/1000, float64(time.Now().Unix()))
	s.logger.Debug(context.Background(), "snapshot written",
		logger.String("path", s.snapshotPath),
		logger.Int("documents", len(file.Documents)),
		logger.Int("bytes", len(compressed)))
	return nil
}

// restore loads the snapshot file when present.
func (s *Store) restore() error {
	compressed, err := os.ReadFile(s.snapshotPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	raw, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return fmt.Errorf("decompress snapshot: %w", err)
	}
	var file snapshotFile
	if err := repository.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if file.Format != snapshotFormat {
		return fmt.Errorf("snapshot format %d not supported", file.Format)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sd := range file.Documents {
		fields, err := repository.NormalizeFields(sd.Fields)
		if err != nil {
			return fmt.Errorf("snapshot document %s/%s: %w", sd.Collection, sd.ID, err)
		}
		s.collectionLocked(sd.Collection)[sd.ID] = &repository.Document{
			Collection: sd.Collection,
			ID:         sd.ID,
			Seq:        sd.Seq,
			Version:    sd.Version,
			CreatedAt:  repository.FromMillis(sd.CreatedAt),
			UpdatedAt:  repository.FromMillis(sd.UpdatedAt),
			Fields:     fields,
		}
	}
	s.seq = file.Seq
	for name, coll := range s.collections {
		metrics.UpdateStoreDocuments(name, len(coll))
	}
	s.logger.Info(context.Background(), "snapshot restored",
		logger.String("path", s.snapshotPath), logger.Int("documents", len(file.Documents)))
	return nil
}
