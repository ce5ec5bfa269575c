package collab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piecetable/backend/internal/ot/delta"
	"piecetable/backend/internal/piecetable"
)

type memSnapshots struct {
	mu   sync.Mutex
	data map[string]struct {
		content string
		rev     uint64
	}
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{data: map[string]struct {
		content string
		rev     uint64
	}{}}
}

func (m *memSnapshots) SaveDocumentSnapshot(ctx context.Context, docID string, rev uint64, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[docID] = struct {
		content string
		rev     uint64
	}{content, rev}
	return nil
}

func (m *memSnapshots) LatestSnapshot(ctx context.Context, docID string) (string, uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[docID]
	return s.content, s.rev, ok, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []DocOpEvent
}

func (p *recordingPublisher) Enqueue(ctx context.Context, evt DocOpEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

type countingRecorder struct {
	mu     sync.Mutex
	edits  map[string]int
	errors map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{edits: map[string]int{}, errors: map[string]int{}}
}

func (r *countingRecorder) ObserveEdit(kind string, pieces int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits[kind]++
}

func (r *countingRecorder) ObserveEditError(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[kind]++
}

type countingCache struct {
	loads       int
	data        map[uint64]string
	err         error
	invalidated []uint64
}

func (c *countingCache) Invalidate(ctx context.Context, docID string, rev uint64) error {
	c.invalidated = append(c.invalidated, rev)
	delete(c.data, rev)
	return nil
}

func (c *countingCache) Get(ctx context.Context, docID string, rev uint64, load func() (string, error)) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	if v, ok := c.data[rev]; ok {
		return v, nil
	}
	c.loads++
	v, err := load()
	if err != nil {
		return "", err
	}
	c.data[rev] = v
	return v, nil
}

func TestService_InsertDeleteCharAt(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	rec := newCountingRecorder()
	svc := NewInMemoryService(ServiceOptions{Events: pub, Recorder: rec})

	rev, err := svc.OpenDocument(ctx, "d1", "lorem")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rev)

	op, err := svc.Insert(ctx, "d1", 7, "hoho", 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), op.Revision)
	assert.Equal(t, 9, op.Length)

	content, rev, err := svc.LoadDocumentContent(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "lohohorem", content)
	assert.Equal(t, uint64(1), rev)

	pieces, err := svc.Pieces(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, []piecetable.Piece{
		{Source: piecetable.Original, Offset: 0, Length: 2},
		{Source: piecetable.Added, Offset: 0, Length: 4},
		{Source: piecetable.Original, Offset: 2, Length: 3},
	}, pieces)

	_, err = svc.Delete(ctx, "d1", 7, 1, 6)
	require.NoError(t, err)

	// "lohohorem" 删掉 [1,7) 后剩 "lem"
	r, err := svc.CharAt(ctx, "d1", 1)
	require.NoError(t, err)
	assert.Equal(t, 'e', r)

	n, err := svc.Length(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, pub.events, 2)
	assert.Equal(t, EventOpApplied, pub.events[0].EventType)
	assert.Equal(t, uint64(0), pub.events[0].BaseRevision)
	assert.Equal(t, uint64(2), pub.events[1].Revision)
	assert.Equal(t, 1, rec.edits[EditInsert])
	assert.Equal(t, 1, rec.edits[EditDelete])
}

func TestService_ErrorsLeaveRevisionUntouched(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	rec := newCountingRecorder()
	svc := NewInMemoryService(ServiceOptions{Events: pub, Recorder: rec})
	_, err := svc.OpenDocument(ctx, "d1", "abc")
	require.NoError(t, err)

	_, err = svc.Insert(ctx, "d1", 1, "x", 4)
	assert.ErrorIs(t, err, piecetable.ErrPositionOutOfBounds)

	_, err = svc.Delete(ctx, "d1", 1, 2, 2)
	assert.ErrorIs(t, err, piecetable.ErrDeleteRangeInvalid)

	_, err = svc.CharAt(ctx, "d1", 3)
	assert.ErrorIs(t, err, piecetable.ErrPositionOutOfBounds)

	rev, err := svc.CurrentRevision(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rev)
	assert.Empty(t, pub.events)
	assert.Equal(t, 1, rec.errors[EditInsert])
	assert.Equal(t, 1, rec.errors[EditDelete])
}

func TestService_UnknownDocument(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(ServiceOptions{})

	_, err := svc.Insert(ctx, "missing", 1, "x", 0)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	_, _, err = svc.LoadDocumentContent(ctx, "missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	_, err = svc.Length(ctx, "missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	rev, err := svc.CurrentRevision(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rev)
}

func TestService_Submit(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(ServiceOptions{})

	d := delta.Delta{{Kind: delta.KindInsert, Text: "Hello world"}}
	op, err := svc.Submit(ctx, "doc", 1, 0, "c1", 1, d)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), op.Revision)

	// 重复的 clientSeq
	_, err = svc.Submit(ctx, "doc", 1, 1, "c1", 1, d)
	assert.ErrorIs(t, err, ErrDuplicateOrOutOfOrder)

	// 过期的 baseRevision
	_, err = svc.Submit(ctx, "doc", 2, 0, "c2", 1, d)
	assert.ErrorIs(t, err, ErrRevisionConflict)

	// 越界的 delta 不生效，也不消耗 clientSeq
	bad := delta.Delta{{Kind: delta.KindRetain, Count: 50}, {Kind: delta.KindInsert, Text: "x"}}
	_, err = svc.Submit(ctx, "doc", 1, 1, "c1", 2, bad)
	assert.ErrorIs(t, err, delta.ErrDeltaInvalid)

	ins := delta.Delta{{Kind: delta.KindRetain, Count: 5}, {Kind: delta.KindInsert, Text: ","}}
	_, err = svc.Submit(ctx, "doc", 1, 1, "c1", 2, ins)
	require.NoError(t, err)

	content, rev, err := svc.LoadDocumentContent(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", content)
	assert.Equal(t, uint64(2), rev)

	ops, err := svc.OpsSince(ctx, "doc", 1, 0)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, ins, ops[0].Ops)
}

func TestService_OpsRingDropsOldest(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(ServiceOptions{RingCap: 3})
	_, err := svc.OpenDocument(ctx, "d", "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := svc.Insert(ctx, "d", 1, "a", 0)
		require.NoError(t, err)
	}
	ops, err := svc.OpsSince(ctx, "d", 0, 0)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, uint64(3), ops[0].Revision)
	assert.Equal(t, uint64(5), ops[2].Revision)

	ops, err = svc.OpsSince(ctx, "d", 0, 2)
	require.NoError(t, err)
	assert.Len(t, ops, 2)
}

func TestService_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	snaps := newMemSnapshots()
	svc := NewInMemoryService(ServiceOptions{Snapshots: snaps})

	_, err := svc.OpenDocument(ctx, "d", "hello")
	require.NoError(t, err)
	_, err = svc.Insert(ctx, "d", 1, " world", 5)
	require.NoError(t, err)
	require.NoError(t, svc.SaveSnapshot(ctx, "d"))

	// 新实例从快照恢复，seed 被忽略
	restored := NewInMemoryService(ServiceOptions{Snapshots: snaps})
	rev, err := restored.OpenDocument(ctx, "d", "ignored")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev)

	content, _, err := restored.LoadDocumentContent(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, "hello world", content)

	// 恢复后的文档只有一个 Original piece
	pieces, err := restored.Pieces(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, []piecetable.Piece{{Source: piecetable.Original, Offset: 0, Length: 11}}, pieces)
}

func TestService_SaveSnapshotWithoutStore(t *testing.T) {
	svc := NewInMemoryService(ServiceOptions{})
	assert.ErrorIs(t, svc.SaveSnapshot(context.Background(), "d"), ErrStoreNotInitialized)

	_, err := svc.CreateDocument(context.Background(), 1, "t")
	assert.ErrorIs(t, err, ErrStoreNotInitialized)
}

func TestService_ContentCache(t *testing.T) {
	ctx := context.Background()
	cache := &countingCache{data: map[uint64]string{}}
	svc := NewInMemoryService(ServiceOptions{Cache: cache})
	_, err := svc.OpenDocument(ctx, "d", "abc")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		content, _, err := svc.LoadDocumentContent(ctx, "d")
		require.NoError(t, err)
		assert.Equal(t, "abc", content)
	}
	assert.Equal(t, 1, cache.loads)

	_, err = svc.Insert(ctx, "d", 1, "!", 3)
	require.NoError(t, err)
	content, rev, err := svc.LoadDocumentContent(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, "abc!", content)
	assert.Equal(t, uint64(1), rev)
	assert.Equal(t, 2, cache.loads)
	assert.Equal(t, []uint64{0}, cache.invalidated)

	// 缓存出错时直接读内存
	cache.err = errors.New("redis down")
	content, _, err = svc.LoadDocumentContent(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, "abc!", content)
}

// blockingCache 在 Get 里等待 release，模拟一次慢的 redis 往返
type blockingCache struct {
	entered chan struct{}
	release chan struct{}
}

func (c *blockingCache) Get(ctx context.Context, docID string, rev uint64, load func() (string, error)) (string, error) {
	close(c.entered)
	<-c.release
	return load()
}

func (c *blockingCache) Invalidate(ctx context.Context, docID string, rev uint64) error { return nil }

func TestService_LoadContentDoesNotBlockWriters(t *testing.T) {
	ctx := context.Background()
	cache := &blockingCache{entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewInMemoryService(ServiceOptions{Cache: cache})
	_, err := svc.OpenDocument(ctx, "d", "abc")
	require.NoError(t, err)

	type result struct {
		content string
		rev     uint64
		err     error
	}
	resCh := make(chan result, 1)
	go func() {
		content, rev, err := svc.LoadDocumentContent(ctx, "d")
		resCh <- result{content, rev, err}
	}()
	<-cache.entered

	// 读请求卡在缓存上时，写请求照常完成
	inserted := make(chan error, 1)
	go func() {
		_, err := svc.Insert(ctx, "d", 1, "!", 3)
		inserted <- err
	}()
	select {
	case err := <-inserted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("insert blocked while content cache was loading")
	}

	// 回源时版本已经前进，返回的是最新内容和版本
	close(cache.release)
	res := <-resCh
	require.NoError(t, res.err)
	assert.Equal(t, "abc!", res.content)
	assert.Equal(t, uint64(1), res.rev)
}

func TestService_ConcurrentEditsAreSerialized(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(ServiceOptions{})
	_, err := svc.OpenDocument(ctx, "d", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = svc.Insert(ctx, "d", 1, "ab", 0)
				_, _, _ = svc.LoadDocumentContent(ctx, "d")
			}
		}()
	}
	wg.Wait()

	n, err := svc.Length(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, 8*50*2, n)
	rev, err := svc.CurrentRevision(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, uint64(400), rev)
}
