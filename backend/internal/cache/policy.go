package cache

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	BaseTTL = 10 * time.Minute // 基础过期时间
	Jitter  = 5 * time.Minute  // 随机抖动范围
)

// 获取随机TTL，防止缓存雪崩
func getRandomTTL() time.Duration {
	return BaseTTL + time.Duration(rand.Int63n(int64(Jitter)))
}

// ContentCache 缓存某个版本的完整文档内容。
// key 带版本号，文档修改后旧版本不会再被读到，提交成功后由服务删除上一个版本，其余的靠 TTL 过期。
type ContentCache struct {
	rdb redis.UniversalClient
	sf  *singleflight.Group
}

func NewContentCache(rdb redis.UniversalClient) *ContentCache {
	return &ContentCache{rdb: rdb, sf: &singleflight.Group{}}
}

// Get 读缓存，miss 时调用 load 回源并回填。同一个 key 的并发 miss 只回源一次。
func (c *ContentCache) Get(ctx context.Context, docID string, rev uint64, load func() (string, error)) (string, error) {
	key := contentKey(docID, rev)
	val, err, _ := c.sf.Do(key, func() (interface{}, error) {
		res, err := c.rdb.Get(ctx, key).Result()
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, redis.Nil) {
			return "", err
		}

		content, err := load()
		if err != nil {
			return "", err
		}
		// 回填失败不影响本次读取
		_ = c.rdb.Set(ctx, key, content, getRandomTTL()).Err()
		return content, nil
	})
	if err != nil {
		return "", err
	}
	// 使用断言确保不会panic
	if v, ok := val.(string); ok {
		return v, nil
	}
	return "", errors.New("internal type error")
}

// Invalidate 删除某个版本的缓存内容
func (c *ContentCache) Invalidate(ctx context.Context, docID string, rev uint64) error {
	return c.rdb.Del(ctx, contentKey(docID, rev)).Err()
}
