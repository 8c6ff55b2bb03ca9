package config

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Metadata.OxiaEndpoint != "localhost:6648" {
		t.Errorf("expected default oxia endpoint localhost:6648, got %s", cfg.Metadata.OxiaEndpoint)
	}

	if cfg.WAL.FlushSizeBytes != 16*1024*1024 {
		t.Errorf("expected default flush size 16MB, got %d", cfg.WAL.FlushSizeBytes)
	}

	if cfg.WALEngine.CapacityBytes != 4<<30 {
		t.Errorf("expected default wal engine capacity 4GB, got %d", cfg.WALEngine.CapacityBytes)
	}

	if cfg.Upload.Codec != "zstd" {
		t.Errorf("expected default upload codec zstd, got %s", cfg.Upload.Codec)
	}
}
