package coordinator

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dray-io/dray/internal/metadata"
	"github.com/dray-io/dray/internal/metadata/keys"
)

// streamMeta is the JSON body stored at keys.StreamMetaKeyPath, extended
// with ownership so GetOpeningStreams/GetServerObjects can scope to the
// calling server without a separate index.
type streamMeta struct {
	Epoch   int64  `json:"epoch"`
	OwnerID string `json:"ownerId"`
}

// walObjectRecord mirrors the teacher's produce.WALObjectRecord, reused
// here for the upload pipeline's committed-object bookkeeping.
type walObjectRecord struct {
	Path       string `json:"path"`
	MetaDomain uint32 `json:"metaDomain"`
	SizeBytes  int64  `json:"sizeBytes"`
	CreatedAt  int64  `json:"createdAt"`
	OwnerID    string `json:"ownerId"`
}

// OxiaCoordinator implements Coordinator on top of internal/metadata's
// MetadataStore (Oxia-backed in production), reusing its key-space
// unchanged rather than inventing a parallel one.
type OxiaCoordinator struct {
	store    metadata.MetadataStore
	ownerID  string
	numDomains int
}

func NewOxiaCoordinator(store metadata.MetadataStore, ownerID string, numDomains int) *OxiaCoordinator {
	return &OxiaCoordinator{store: store, ownerID: ownerID, numDomains: numDomains}
}

func (c *OxiaCoordinator) GetOpeningStreams(ctx context.Context) ([]OpeningStream, error) {
	entries, err := c.store.List(ctx, keys.StreamsPrefix+"/", "", 0)
	if err != nil {
		return nil, err
	}

	var out []OpeningStream
	for _, kv := range entries {
		streamID, ok := streamIDFromMetaKey(kv.Key)
		if !ok {
			continue
		}
		var meta streamMeta
		if err := json.Unmarshal(kv.Value, &meta); err != nil {
			continue
		}
		if meta.OwnerID != c.ownerID {
			continue
		}
		hwmRes, err := c.store.Get(ctx, keys.HwmKeyPath(streamID))
		if err != nil {
			return nil, err
		}
		var end int64
		if hwmRes.Exists {
			end = decodeHWM(hwmRes.Value)
		}
		out = append(out, OpeningStream{StreamID: streamID, Epoch: meta.Epoch, EndOffset: end})
	}
	return out, nil
}

func (c *OxiaCoordinator) PrepareObject(ctx context.Context, count int, ttlMs int64) (PreparedObjectRange, error) {
	const counterKey = keys.Prefix + "/wal/object-id-counter"
	var first uint64
	err := c.store.Txn(ctx, counterKey, func(txn metadata.Txn) error {
		value, version, err := txn.Get(counterKey)
		var cur uint64
		if err != nil {
			if !errors.Is(err, metadata.ErrKeyNotFound) {
				return err
			}
			version = metadata.NoVersion
		} else {
			cur = binary.BigEndian.Uint64(value)
		}
		first = cur
		next := cur + uint64(count)
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, next)
		if version == metadata.NoVersion {
			txn.Put(counterKey, buf)
		} else {
			txn.PutWithVersion(counterKey, buf, version)
		}
		return nil
	})
	if err != nil {
		return PreparedObjectRange{}, fmt.Errorf("coordinator: prepare object: %w", err)
	}
	return PreparedObjectRange{FirstObjectID: first, Count: count}, nil
}

func (c *OxiaCoordinator) CommitWALObject(ctx context.Context, req CommitWALObjectRequest) ([]StreamCommitResult, error) {
	scopeKey := keys.WALObjectsDomainPrefix(int(req.MetaDomain))
	var results []StreamCommitResult

	err := c.store.Txn(ctx, scopeKey, func(txn metadata.Txn) error {
		results = results[:0]
		for _, chunk := range req.Chunks {
			hwmKey := keys.HwmKeyPath(chunk.StreamID)
			value, version, err := txn.Get(hwmKey)
			var cur int64
			if err != nil {
				if !errors.Is(err, metadata.ErrKeyNotFound) {
					return err
				}
				version = metadata.NoVersion
			} else {
				cur = decodeHWM(value)
			}
			end := cur + int64(chunk.RecordCount)
			buf := encodeHWM(end)
			if version == metadata.NoVersion {
				txn.Put(hwmKey, buf)
			} else {
				txn.PutWithVersion(hwmKey, buf, version)
			}
			results = append(results, StreamCommitResult{StreamID: chunk.StreamID, StartOffset: cur, EndOffset: end})
		}

		rec := walObjectRecord{
			Path:       req.Path,
			MetaDomain: req.MetaDomain,
			SizeBytes:  req.SizeBytes,
			CreatedAt:  req.CreatedAtUnixMs,
			OwnerID:    c.ownerID,
		}
		recBytes, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		txn.Put(keys.WALObjectKeyPath(int(req.MetaDomain), keys.EncodeUint64(req.ObjectID, keys.OffsetWidth)), recBytes)
		if req.StagingKey != "" {
			txn.Delete(req.StagingKey)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: commit wal object: %w", err)
	}
	return results, nil
}

func (c *OxiaCoordinator) GetServerObjects(ctx context.Context) ([]ServerObject, error) {
	var out []ServerObject
	for domain := 0; domain < c.numDomains; domain++ {
		entries, err := c.store.List(ctx, keys.WALObjectsDomainPrefix(domain), "", 0)
		if err != nil {
			return nil, err
		}
		for _, kv := range entries {
			var rec walObjectRecord
			if err := json.Unmarshal(kv.Value, &rec); err != nil {
				continue
			}
			if rec.OwnerID != c.ownerID {
				continue
			}
			_, objIDStr, err := keys.ParseWALObjectKey(kv.Key)
			if err != nil {
				continue
			}
			objID, err := keys.DecodeUint64(objIDStr)
			if err != nil {
				continue
			}
			out = append(out, ServerObject{
				ObjectID:   objID,
				MetaDomain: rec.MetaDomain,
				Path:       rec.Path,
				SizeBytes:  rec.SizeBytes,
			})
		}
	}
	return out, nil
}

func (c *OxiaCoordinator) GetStreams(ctx context.Context, streamIDs []string) ([]StreamInfo, error) {
	out := make([]StreamInfo, 0, len(streamIDs))
	for _, id := range streamIDs {
		metaRes, err := c.store.Get(ctx, keys.StreamMetaKeyPath(id))
		if err != nil {
			return nil, err
		}
		if !metaRes.Exists {
			continue
		}
		var meta streamMeta
		if err := json.Unmarshal(metaRes.Value, &meta); err != nil {
			return nil, err
		}
		hwmRes, err := c.store.Get(ctx, keys.HwmKeyPath(id))
		if err != nil {
			return nil, err
		}
		var end int64
		if hwmRes.Exists {
			end = decodeHWM(hwmRes.Value)
		}
		out = append(out, StreamInfo{StreamID: id, Epoch: meta.Epoch, EndOffset: end})
	}
	return out, nil
}

func (c *OxiaCoordinator) CloseStream(ctx context.Context, streamID string, epoch int64) error {
	key := keys.StreamMetaKeyPath(streamID)
	metaRes, err := c.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if !metaRes.Exists {
		return ErrStreamNotFound
	}
	var meta streamMeta
	if err := json.Unmarshal(metaRes.Value, &meta); err != nil {
		return err
	}
	if meta.Epoch != epoch {
		return ErrEpochMismatch
	}
	meta.OwnerID = ""
	buf, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = c.store.Put(ctx, key, buf, metadata.WithExpectedVersion(metaRes.Version))
	return err
}

func streamIDFromMetaKey(key string) (string, bool) {
	const suffix = "/meta"
	prefix := keys.StreamsPrefix + "/"
	if len(key) <= len(prefix)+len(suffix) {
		return "", false
	}
	if key[len(key)-len(suffix):] != suffix {
		return "", false
	}
	return key[len(prefix) : len(key)-len(suffix)], true
}

func decodeHWM(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func encodeHWM(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}
