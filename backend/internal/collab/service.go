package collab

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"piecetable/backend/internal/ot/delta"
	"piecetable/backend/internal/piecetable"
)

// 协作引擎接口
type Service interface {
	OpenDocument(ctx context.Context, docID string, seed string) (uint64, error)

	Submit(ctx context.Context, docID string, authorID uint64,
		baseRevision uint64, clientID string, clientSeq uint64,
		ops delta.Delta) (AppliedOp, error)

	Insert(ctx context.Context, docID string, authorID uint64, text string, pos int) (AppliedOp, error)
	Delete(ctx context.Context, docID string, authorID uint64, pos, length int) (AppliedOp, error)
	CharAt(ctx context.Context, docID string, pos int) (rune, error)
	Length(ctx context.Context, docID string) (int, error)
	Pieces(ctx context.Context, docID string) ([]piecetable.Piece, error)

	CurrentRevision(ctx context.Context, docID string) (uint64, error)
	LoadDocumentContent(ctx context.Context, docID string) (string, uint64, error)

	// 用于握手/追平
	OpsSince(ctx context.Context, docID string, fromRevision uint64, limit int) ([]AppliedOp, error)

	SaveSnapshot(ctx context.Context, docID string) error

	GetDocumentID(ctx context.Context, title string) (string, error)
	CreateDocument(ctx context.Context, ownerID uint64, title string) (string, error)
}

// 快照存储接口
type SnapshotStore interface {
	SaveDocumentSnapshot(ctx context.Context, docID string, rev uint64, content string) error
	LatestSnapshot(ctx context.Context, docID string) (content string, rev uint64, found bool, err error)
}

type DocumentStore interface {
	GetDocumentID(ctx context.Context, title string) (string, error)
	CreateDocument(ctx context.Context, ownerID uint64, title string) (string, error)
}

// ContentCache 缓存某个版本的完整文档内容，miss 时调用 load 回源
type ContentCache interface {
	Get(ctx context.Context, docID string, rev uint64, load func() (string, error)) (string, error)
	Invalidate(ctx context.Context, docID string, rev uint64) error
}

// Recorder 接收编辑指标，metrics 包提供 prometheus 实现
type Recorder interface {
	ObserveEdit(kind string, pieces int)
	ObserveEditError(kind string)
}

type AppliedOp struct {
	OperationId string // 本次操作的唯一ID（用于幂等/追踪）
	Revision    uint64 // 文档版本号
	AuthorId    uint64
	Ops         delta.Delta
	Length      int
	AppliedAt   time.Time
}

var (
	ErrRevisionConflict      = errors.New("REVISION_CONFLICT")
	ErrDuplicateOrOutOfOrder = errors.New("DUPLICATE_OR_OUT_OF_ORDER")
	ErrDocumentNotFound      = errors.New("DOCUMENT_NOT_FOUND")
	ErrStoreNotInitialized   = errors.New("STORE_NOT_INITIALIZED")

	// 缓存回源时发现文档已被修改，本次读取改为直接读内存
	errRevisionMoved = errors.New("revision moved during cache load")
)

const (
	EditInsert = "insert"
	EditDelete = "delete"
	EditSubmit = "submit"
)

type docState struct {
	// PieceTable 自身没有锁，所有读写都经过这把锁串行化
	mu       sync.RWMutex
	revision uint64
	opsRing  []AppliedOp
	// 去重窗口：记录某 clientId 最近的最大 clientSeq
	lastSeqByClient map[string]uint64
	// 文档内容缓冲区
	buf Buffer
}

type ServiceOptions struct {
	Snapshots SnapshotStore
	Documents DocumentStore
	Cache     ContentCache
	Events    EventPublisher
	Recorder  Recorder
	// 近期操作环形缓冲容量
	RingCap int
}

// 内存实现：持有所有文档的状态
type InMemoryService struct {
	mu      sync.RWMutex
	docs    map[string]*docState
	ringCap int

	// 依赖注入，只声明接口，实现在 store / cache / metrics 中
	snapshots SnapshotStore
	documents DocumentStore
	cache     ContentCache
	events    EventPublisher
	recorder  Recorder
}

var _ Service = (*InMemoryService)(nil)

// NewInMemoryService 返回一个满足 Service 接口的实例
func NewInMemoryService(opt ServiceOptions) *InMemoryService {
	if opt.RingCap <= 0 {
		opt.RingCap = 1024
	}
	return &InMemoryService{
		docs:      make(map[string]*docState),
		ringCap:   opt.RingCap,
		snapshots: opt.Snapshots,
		documents: opt.Documents,
		cache:     opt.Cache,
		events:    opt.Events,
		recorder:  opt.Recorder,
	}
}

func (s *InMemoryService) newDocState(content string, rev uint64) *docState {
	return &docState{
		revision:        rev,
		lastSeqByClient: make(map[string]uint64),
		opsRing:         make([]AppliedOp, 0, s.ringCap),
		buf:             newBuffer(content),
	}
}

func (s *InMemoryService) getDoc(docID string) (*docState, error) {
	s.mu.RLock()
	ds := s.docs[docID]
	s.mu.RUnlock()
	if ds == nil {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	return ds, nil
}

// 获取或创建指定文档的状态
func (s *InMemoryService) getOrCreateDoc(docID string) *docState {
	s.mu.RLock()
	ds := s.docs[docID]
	s.mu.RUnlock()
	if ds != nil {
		return ds
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds = s.docs[docID]; ds == nil {
		ds = s.newDocState("", 0)
		s.docs[docID] = ds
	}
	return ds
}

// OpenDocument 把文档载入内存。已打开的文档直接返回当前版本；
// 否则优先从最新快照恢复，没有快照时以 seed 作为 original 缓冲区。
func (s *InMemoryService) OpenDocument(ctx context.Context, docID string, seed string) (uint64, error) {
	s.mu.RLock()
	ds := s.docs[docID]
	s.mu.RUnlock()
	if ds != nil {
		ds.mu.RLock()
		defer ds.mu.RUnlock()
		return ds.revision, nil
	}

	content, rev := seed, uint64(0)
	if s.snapshots != nil {
		snap, snapRev, found, err := s.snapshots.LatestSnapshot(ctx, docID)
		if err != nil {
			return 0, fmt.Errorf("load snapshot %s: %w", docID, err)
		}
		if found {
			content, rev = snap, snapRev
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// 加锁期间可能已被其他请求打开
	if ds = s.docs[docID]; ds != nil {
		ds.mu.RLock()
		defer ds.mu.RUnlock()
		return ds.revision, nil
	}
	s.docs[docID] = s.newDocState(content, rev)
	log.Printf("document opened doc=%s rev=%d len=%d", docID, rev, len([]rune(content)))
	return rev, nil
}

// 提交操作：去重 -> 版本校验 -> 应用 -> 推进版本
func (s *InMemoryService) Submit(ctx context.Context, docID string, authorID uint64, baseRevision uint64, clientId string, clientSeq uint64, ops delta.Delta) (AppliedOp, error) {
	ds := s.getOrCreateDoc(docID)
	ds.mu.Lock()

	// 幂等/去重（只允许递增）
	if last := ds.lastSeqByClient[clientId]; clientSeq <= last {
		ds.mu.Unlock()
		return AppliedOp{}, ErrDuplicateOrOutOfOrder
	}
	if baseRevision != ds.revision {
		ds.mu.Unlock()
		return AppliedOp{}, ErrRevisionConflict
	}
	if err := ds.buf.Apply(ops); err != nil {
		ds.mu.Unlock()
		s.observeError(EditSubmit)
		return AppliedOp{}, err
	}
	ds.lastSeqByClient[clientId] = clientSeq
	applied, evt := s.commitLocked(ds, docID, authorID, ops)
	evt.ClientID = clientId
	evt.ClientSeq = clientSeq
	evt.BaseRevision = baseRevision
	pieces := len(ds.buf.Pieces())
	ds.mu.Unlock()

	s.afterCommit(ctx, EditSubmit, pieces, evt)
	return applied, nil
}

// Insert 在 pos 处插入 text
func (s *InMemoryService) Insert(ctx context.Context, docID string, authorID uint64, text string, pos int) (AppliedOp, error) {
	ds, err := s.getDoc(docID)
	if err != nil {
		return AppliedOp{}, err
	}
	ds.mu.Lock()
	base := ds.revision
	if err := ds.buf.Insert(text, pos); err != nil {
		ds.mu.Unlock()
		s.observeError(EditInsert)
		return AppliedOp{}, err
	}
	ops := delta.Delta{{Kind: delta.KindRetain, Count: pos}, {Kind: delta.KindInsert, Text: text}}
	applied, evt := s.commitLocked(ds, docID, authorID, ops)
	evt.BaseRevision = base
	pieces := len(ds.buf.Pieces())
	ds.mu.Unlock()

	s.afterCommit(ctx, EditInsert, pieces, evt)
	return applied, nil
}

// Delete 删除 [pos, pos+length)
func (s *InMemoryService) Delete(ctx context.Context, docID string, authorID uint64, pos, length int) (AppliedOp, error) {
	ds, err := s.getDoc(docID)
	if err != nil {
		return AppliedOp{}, err
	}
	ds.mu.Lock()
	base := ds.revision
	if err := ds.buf.Delete(pos, length); err != nil {
		ds.mu.Unlock()
		s.observeError(EditDelete)
		return AppliedOp{}, err
	}
	ops := delta.Delta{{Kind: delta.KindRetain, Count: pos}, {Kind: delta.KindDelete, Count: length}}
	applied, evt := s.commitLocked(ds, docID, authorID, ops)
	evt.BaseRevision = base
	pieces := len(ds.buf.Pieces())
	ds.mu.Unlock()

	s.afterCommit(ctx, EditDelete, pieces, evt)
	return applied, nil
}

// commitLocked 推进版本、写入环形缓冲并构造事件，调用方持有 ds.mu 写锁
func (s *InMemoryService) commitLocked(ds *docState, docID string, authorID uint64, ops delta.Delta) (AppliedOp, DocOpEvent) {
	ds.revision++
	appliedOp := AppliedOp{
		OperationId: fmt.Sprintf("o-%d", time.Now().UnixNano()),
		Revision:    ds.revision,
		AuthorId:    authorID,
		Ops:         ops,
		Length:      ds.buf.Len(),
		AppliedAt:   time.Now(),
	}

	// 保存到环形缓冲（如果达到容量则丢弃最老的一条）
	if cap(ds.opsRing) > 0 && len(ds.opsRing) == cap(ds.opsRing) {
		copy(ds.opsRing[0:], ds.opsRing[1:])
		ds.opsRing = ds.opsRing[:len(ds.opsRing)-1]
	}
	ds.opsRing = append(ds.opsRing, appliedOp)

	evt := DocOpEvent{
		EventType:   EventOpApplied,
		DocID:       docID,
		OperationID: appliedOp.OperationId,
		Revision:    appliedOp.Revision,
		AuthorID:    authorID,
		Ops:         ops,
		Length:      appliedOp.Length,
		AppliedAt:   appliedOp.AppliedAt,
	}
	return appliedOp, evt
}

// afterCommit 在释放文档锁之后执行：记录指标、清理上一版本的内容缓存、投递事件
func (s *InMemoryService) afterCommit(ctx context.Context, kind string, pieces int, evt DocOpEvent) {
	s.observe(kind, pieces)
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, evt.DocID, evt.Revision-1); err != nil {
			log.Printf("invalidate content cache failed doc=%s rev=%d err=%v", evt.DocID, evt.Revision-1, err)
		}
	}
	s.publish(ctx, evt)
}

// 异步发 Kafka（只入队，不阻塞主流程）
func (s *InMemoryService) publish(ctx context.Context, evt DocOpEvent) {
	if s.events == nil {
		return
	}
	enqueueCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if err := s.events.Enqueue(enqueueCtx, evt); err != nil {
		log.Printf("enqueue event failed doc=%s rev=%d err=%v", evt.DocID, evt.Revision, err)
	}
}

func (s *InMemoryService) observe(kind string, pieces int) {
	if s.recorder != nil {
		s.recorder.ObserveEdit(kind, pieces)
	}
}

func (s *InMemoryService) observeError(kind string) {
	if s.recorder != nil {
		s.recorder.ObserveEditError(kind)
	}
}

func (s *InMemoryService) CharAt(ctx context.Context, docID string, pos int) (rune, error) {
	ds, err := s.getDoc(docID)
	if err != nil {
		return 0, err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.buf.CharAt(pos)
}

func (s *InMemoryService) Length(ctx context.Context, docID string) (int, error) {
	ds, err := s.getDoc(docID)
	if err != nil {
		return 0, err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.buf.Len(), nil
}

func (s *InMemoryService) Pieces(ctx context.Context, docID string) ([]piecetable.Piece, error) {
	ds, err := s.getDoc(docID)
	if err != nil {
		return nil, err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.buf.Pieces(), nil
}

// 返回当前文档版本，未打开的文档版本为 0
func (s *InMemoryService) CurrentRevision(ctx context.Context, docID string) (uint64, error) {
	s.mu.RLock()
	ds := s.docs[docID]
	s.mu.RUnlock()
	if ds == nil {
		return 0, nil
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.revision, nil
}

func (s *InMemoryService) LoadDocumentContent(ctx context.Context, docID string) (string, uint64, error) {
	ds, err := s.getDoc(docID)
	if err != nil {
		return "", 0, err
	}
	if s.cache == nil {
		content, rev := ds.snapshot()
		return content, rev, nil
	}

	// 访问 redis 期间不持有文档锁，回源时再确认版本没有前进
	ds.mu.RLock()
	rev := ds.revision
	ds.mu.RUnlock()
	content, err := s.cache.Get(ctx, docID, rev, func() (string, error) {
		ds.mu.RLock()
		defer ds.mu.RUnlock()
		if ds.revision != rev {
			return "", errRevisionMoved
		}
		return ds.buf.String(), nil
	})
	if err != nil {
		if !errors.Is(err, errRevisionMoved) {
			// 缓存不可用时降级为直接读内存
			log.Printf("content cache get failed doc=%s rev=%d err=%v", docID, rev, err)
		}
		content, rev = ds.snapshot()
		return content, rev, nil
	}
	return content, rev, nil
}

// snapshot 在读锁下同时取出内容和版本
func (ds *docState) snapshot() (string, uint64) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.buf.String(), ds.revision
}

// 返回 fromRevision 之后的已应用操作
func (s *InMemoryService) OpsSince(ctx context.Context, docID string, fromRevision uint64, limit int) ([]AppliedOp, error) {
	s.mu.RLock()
	ds := s.docs[docID]
	s.mu.RUnlock()
	if ds == nil {
		return nil, nil
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	var out []AppliedOp
	for _, op := range ds.opsRing {
		if op.Revision > fromRevision {
			out = append(out, op)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *InMemoryService) SaveSnapshot(ctx context.Context, docID string) error {
	if s.snapshots == nil {
		return fmt.Errorf("%w: snapshot store", ErrStoreNotInitialized)
	}
	ds, err := s.getDoc(docID)
	if err != nil {
		return err
	}
	content, rev := ds.snapshot()
	return s.snapshots.SaveDocumentSnapshot(ctx, docID, rev, content)
}

func (s *InMemoryService) GetDocumentID(ctx context.Context, title string) (string, error) {
	if s.documents == nil {
		return "", fmt.Errorf("%w: document store", ErrStoreNotInitialized)
	}
	return s.documents.GetDocumentID(ctx, title)
}

func (s *InMemoryService) CreateDocument(ctx context.Context, ownerID uint64, title string) (string, error) {
	if s.documents == nil {
		return "", fmt.Errorf("%w: document store", ErrStoreNotInitialized)
	}
	return s.documents.CreateDocument(ctx, ownerID, title)
}
