// Package store 基于 Redis 的 Mask 持久化与自动分割结果缓存
package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/getcharzp/go-pointseg/autoseg"
	"github.com/getcharzp/go-pointseg/mask"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("记录不存在")

// Options Redis 连接参数
type Options struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"` // 自动分割缓存的过期时间，0 表示不过期
}

// MaskStore 已确认 Mask 与自动分割结果的存储
type MaskStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New 创建存储
func New(opts Options, logger *zap.Logger) *MaskStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &MaskStore{
		client: client,
		ttl:    opts.TTL,
		logger: logger.Named("store"),
	}
}

// Ping 检查连接
func (s *MaskStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close 关闭连接
func (s *MaskStore) Close() error {
	return s.client.Close()
}

func maskKey(docID, id string) string {
	return "mask:" + docID + ":" + id
}

func indexKey(docID string) string {
	return "masks:" + docID
}

func autoKey(md5 string) string {
	return "auto:" + md5
}

// SaveMask 以传输格式保存已确认的 Mask
func (s *MaskStore) SaveMask(ctx context.Context, docID, id string, m *mask.Mask) error {
	enc, err := mask.Encode(m)
	if err != nil {
		return err
	}
	data, err := json.Marshal(enc)
	if err != nil {
		return fmt.Errorf("序列化 Mask 失败: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, maskKey(docID, id), data, 0)
		pipe.SAdd(ctx, indexKey(docID), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("保存 Mask 失败: %w", err)
	}
	s.logger.Debug("mask saved", zap.String("doc", docID), zap.String("id", id), zap.Any("bbox", enc.BBox))
	return nil
}

// LoadMask 读取 Mask 的传输格式
func (s *MaskStore) LoadMask(ctx context.Context, docID, id string) (*mask.Encoded, error) {
	data, err := s.client.Get(ctx, maskKey(docID, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("读取 Mask 失败: %w", err)
	}
	var enc mask.Encoded
	if err := json.Unmarshal(data, &enc); err != nil {
		s.logger.Error("failed to unmarshal mask", zap.String("doc", docID), zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("反序列化 Mask 失败: %w", err)
	}
	return &enc, nil
}

// ListMasks 文档下所有 Mask 的 id (升序)
func (s *MaskStore) ListMasks(ctx context.Context, docID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, indexKey(docID)).Result()
	if err != nil {
		return nil, fmt.Errorf("读取 Mask 列表失败: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteMask 删除 Mask
func (s *MaskStore) DeleteMask(ctx context.Context, docID, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, maskKey(docID, id))
		pipe.SRem(ctx, indexKey(docID), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("删除 Mask 失败: %w", err)
	}
	return nil
}

// AutoEntry 自动分割缓存中的单个 Mask
type AutoEntry struct {
	Mask      mask.Encoded `json:"mask"`
	Score     float64      `json:"score"`
	Stability float64      `json:"stability"`
	Area      int          `json:"area"`
	X         float64      `json:"x"`
	Y         float64      `json:"y"`
}

// BytesMD5 计算字节数组 MD5，作为自动分割缓存的键
func BytesMD5(data []byte) string {
	hash := md5.Sum(data)
	return hex.EncodeToString(hash[:])
}

// GetAutoResult 读取图片的自动分割缓存，未命中返回 ErrNotFound
func (s *MaskStore) GetAutoResult(ctx context.Context, md5 string) ([]AutoEntry, error) {
	data, err := s.client.Get(ctx, autoKey(md5)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("读取自动分割缓存失败: %w", err)
	}
	var entries []AutoEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Error("failed to unmarshal auto result", zap.String("md5", md5), zap.Error(err))
		return nil, fmt.Errorf("反序列化自动分割缓存失败: %w", err)
	}
	return entries, nil
}

// SetAutoResult 写入图片的自动分割缓存
func (s *MaskStore) SetAutoResult(ctx context.Context, md5 string, segs []*autoseg.Segment) error {
	entries := make([]AutoEntry, 0, len(segs))
	for _, seg := range segs {
		enc, err := mask.Encode(seg.Mask)
		if err != nil {
			return err
		}
		entries = append(entries, AutoEntry{
			Mask:      *enc,
			Score:     seg.Score,
			Stability: seg.Stability,
			Area:      seg.Area,
			X:         seg.Point.X,
			Y:         seg.Point.Y,
		})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("序列化自动分割结果失败: %w", err)
	}
	if err := s.client.Set(ctx, autoKey(md5), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("写入自动分割缓存失败: %w", err)
	}
	s.logger.Debug("auto result cached", zap.String("md5", md5), zap.Int("masks", len(entries)))
	return nil
}
