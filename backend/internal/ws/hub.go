package ws

import (
	"sync"

	"piecetable/backend/internal/cache"
	"piecetable/backend/internal/collab"
)

type Hub struct {
	// 在线状态存储（一般是 Redis 实现），可以为空
	presence cache.PresenceCache
	// 保护 rooms，加入/离开房间、广播时都会先加锁
	mu sync.RWMutex
	// docID -> set of connections
	rooms map[string]map[*Conn]struct{}
}

func NewHub(p cache.PresenceCache) *Hub {
	return &Hub{presence: p, rooms: make(map[string]map[*Conn]struct{})}
}

// Join 将连接加入指定文档房间
func (h *Hub) Join(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[docID] == nil {
		// 房间里存的是连接而不是 userID：一个用户可开多个标签页，广播要逐连接发
		h.rooms[docID] = make(map[*Conn]struct{})
	}
	h.rooms[docID][c] = struct{}{}
}

// Leave 将连接从指定文档房间移除
func (h *Hub) Leave(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[docID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, docID)
		}
	}
}

// RoomSize 返回房间内的连接数
func (h *Hub) RoomSize(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[docID])
}

// 复制一份连接列表，避免持锁发送
func (h *Hub) snapshot(docID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*Conn, 0, len(h.rooms[docID]))
	for c := range h.rooms[docID] {
		conns = append(conns, c)
	}
	return conns
}

// BroadcastAppliedOp 把已应用的操作推送给房间内除 from 以外的连接
func (h *Hub) BroadcastAppliedOp(docID string, from *Conn, op collab.AppliedOp) {
	msg := OpBroadcastMessage{
		Type:      "op_broadcast",
		DocID:     docID,
		Revision:  op.Revision,
		AuthorID:  op.AuthorId,
		Ops:       op.Ops,
		AppliedAt: op.AppliedAt,
	}
	for _, c := range h.snapshot(docID) {
		if c == from {
			continue
		}
		c.SendMessage_Enqueue(msg)
	}
}

func (h *Hub) BroadcastPresence(docID string, members []PresenceMember) {
	msg := ServerMessage{Type: "presence", DocID: docID, Members: members}
	for _, c := range h.snapshot(docID) {
		c.SendMessage_Enqueue(msg)
	}
}

// BroadcastCursor 推送某个用户的光标位置，不回发给自己
func (h *Hub) BroadcastCursor(docID string, from *Conn, cursor []byte) {
	msg := ServerMessage{Type: "cursor", DocID: docID, UserID: from.userID, Cursor: cursor}
	for _, c := range h.snapshot(docID) {
		if c == from {
			continue
		}
		c.SendMessage_Enqueue(msg)
	}
}
