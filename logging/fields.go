package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"imagepipeline/memory"
)

// PoolStatsField logs a pool snapshot as a nested object.
//
// Example:
//
//	logger.Info("pool stats", logging.PoolStatsField(pool.Stats()))
func PoolStatsField(s memory.PoolStats) zap.Field {
	return zap.Object("pool", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		enc.AddString("name", s.Name)
		enc.AddInt("used_count", s.UsedCount)
		enc.AddInt("used_bytes", s.UsedBytes)
		enc.AddInt("free_count", s.FreeCount)
		enc.AddInt("free_bytes", s.FreeBytes)
		enc.AddInt("soft_cap", s.SoftCap)
		enc.AddInt("hard_cap", s.HardCap)
		enc.AddInt("buckets", len(s.Buckets))
		return nil
	}))
}

// TrimFields describes one trim pass.
func TrimFields(pool string, trimType memory.TrimType, freedBytes int) []zap.Field {
	return []zap.Field{
		zap.String("pool", pool),
		zap.Stringer("trim_type", trimType),
		zap.Int("freed_bytes", freedBytes),
	}
}
