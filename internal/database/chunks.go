package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 📦 字节流分块存储
// =============================================================================

// Chunk 持久化的字节流分块。同一流内 Seq 从 1 开始严格递增，
// EOF 行标记流结束。
type Chunk struct {
	ID        uint   `gorm:"primaryKey"`
	StreamID  string `gorm:"size:64;not null;uniqueIndex:idx_stream_seq,priority:1"`
	Seq       int64  `gorm:"not null;uniqueIndex:idx_stream_seq,priority:2"`
	Data      []byte
	EOF       bool      `gorm:"not null;default:false"`
	ErrMsg    string    `gorm:"size:1024"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName 表名
func (Chunk) TableName() string { return "stream_chunks" }

// ErrStreamFinished 流已写入结束标记
var ErrStreamFinished = errors.New("stream already finished")

// OpRecorder 记录连接器操作耗时，metrics.Collector 实现该接口
type OpRecorder interface {
	RecordConnectorOp(connector, operation string, duration time.Duration, err error)
}

// ChunkStore 基于 GORM 的分块存储
type ChunkStore struct {
	pm       *PoolManager
	logger   *zap.Logger
	recorder OpRecorder
}

// NewChunkStore 创建分块存储
func NewChunkStore(pm *PoolManager, logger *zap.Logger) *ChunkStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChunkStore{pm: pm, logger: logger.With(zap.String("component", "chunk_store"))}
}

// WithRecorder 设置操作记录器
func (s *ChunkStore) WithRecorder(r OpRecorder) *ChunkStore {
	s.recorder = r
	return s
}

// Migrate 自动迁移表结构
func (s *ChunkStore) Migrate(ctx context.Context) error {
	if err := s.pm.DB().WithContext(ctx).AutoMigrate(&Chunk{}); err != nil {
		return fmt.Errorf("migrate chunks: %w", err)
	}
	return nil
}

// Append 在流末尾追加一个分块，返回其序号
func (s *ChunkStore) Append(ctx context.Context, streamID string, data []byte) (int64, error) {
	return s.insert(ctx, "append", &Chunk{StreamID: streamID, Data: data})
}

// Finish 写入结束标记，reason 非空表示异常结束
func (s *ChunkStore) Finish(ctx context.Context, streamID string, reason string) error {
	_, err := s.insert(ctx, "finish", &Chunk{StreamID: streamID, EOF: true, ErrMsg: reason})
	return err
}

func (s *ChunkStore) insert(ctx context.Context, op string, c *Chunk) (int64, error) {
	start := time.Now()
	err := s.pm.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		var last Chunk
		err := tx.Where("stream_id = ?", c.StreamID).Order("seq DESC").Limit(1).Find(&last).Error
		if err != nil {
			return err
		}
		if last.EOF {
			return ErrStreamFinished
		}
		c.ID = 0
		c.Seq = last.Seq + 1
		return tx.Create(c).Error
	})
	s.record(op, start, err)
	if err != nil {
		if !errors.Is(err, ErrStreamFinished) {
			s.logger.Error("chunk insert failed", zap.String("stream_id", c.StreamID), zap.Error(err))
		}
		return 0, fmt.Errorf("chunk %s: %w", op, err)
	}
	return c.Seq, nil
}

// ReadAfter 按序号读取 afterSeq 之后的最多 limit 个分块
func (s *ChunkStore) ReadAfter(ctx context.Context, streamID string, afterSeq int64, limit int) ([]Chunk, error) {
	start := time.Now()
	var chunks []Chunk
	err := s.pm.DB().WithContext(ctx).
		Where("stream_id = ? AND seq > ?", streamID, afterSeq).
		Order("seq ASC").
		Limit(limit).
		Find(&chunks).Error
	s.record("read", start, err)
	if err != nil {
		return nil, fmt.Errorf("chunk read: %w", err)
	}
	return chunks, nil
}

// Size 返回流已存储的数据字节数
func (s *ChunkStore) Size(ctx context.Context, streamID string) (int64, error) {
	var total int64
	err := s.pm.DB().WithContext(ctx).Model(&Chunk{}).
		Where("stream_id = ?", streamID).
		Select("COALESCE(SUM(LENGTH(data)), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("chunk size: %w", err)
	}
	return total, nil
}

// Delete 删除流的全部分块
func (s *ChunkStore) Delete(ctx context.Context, streamID string) error {
	err := s.pm.DB().WithContext(ctx).Where("stream_id = ?", streamID).Delete(&Chunk{}).Error
	if err != nil {
		return fmt.Errorf("chunk delete: %w", err)
	}
	return nil
}

func (s *ChunkStore) record(op string, start time.Time, err error) {
	if s.recorder != nil {
		s.recorder.RecordConnectorOp("sql", op, time.Since(start), err)
	}
}
