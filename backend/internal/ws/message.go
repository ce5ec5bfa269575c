package ws

import (
	"encoding/json"
	"time"

	"piecetable/backend/internal/ot/delta"
)

type ClientMessage struct {
	Type         string      `json:"type"`
	DocID        string      `json:"docId"`
	BaseRevision uint64      `json:"baseRevision"`
	ClientId     string      `json:"clientId"`
	ClientSeq    uint64      `json:"clientSeq"`
	Ops          delta.Delta `json:"ops"`
	// insert / delete 直接编辑
	Text     string `json:"text,omitempty"`
	Position int    `json:"position,omitempty"`
	Length   int    `json:"length,omitempty"`
	// joinDocument 时文档尚未打开，用 Content 作为初始文本
	Content string `json:"content,omitempty"`
	// cursor 消息携带的光标位置，原样转发
	Cursor json.RawMessage `json:"cursor,omitempty"`
}

type PresenceMember struct {
	UserID   uint64 `json:"userId"`
	Username string `json:"username,omitempty"`
}

type ServerMessage struct {
	Type     string           `json:"type"`
	UserID   uint64           `json:"userId,omitempty"`
	DocID    string           `json:"docId,omitempty"`
	Revision uint64           `json:"revision"`
	Members  []PresenceMember `json:"members,omitempty"`
	Content  string           `json:"content,omitempty"`
	Cursor   json.RawMessage  `json:"cursor,omitempty"`
}

// joinDocument 的回复，版本号和长度为 0 时也要带上
type JoinMessage struct {
	Type     string `json:"type"` // 固定 "joinDocument"
	DocID    string `json:"docId"`
	Revision uint64 `json:"revision"`
	Length   int    `json:"length"`
}

// 广播给同文档房间内其他连接的“已应用操作”事件
// - 与 op_applied(ack) 区分：这里用于把变更推送给其他协作者（包括同用户的其他标签页）
// - 前端收到后在本地应用 ops，并将本地 revision 对齐到 revision
type OpBroadcastMessage struct {
	Type      string      `json:"type"` // 固定 "op_broadcast"
	DocID     string      `json:"docId"`
	Revision  uint64      `json:"revision"` // 服务端已应用后的最新版本
	AuthorID  uint64      `json:"authorId"`
	Ops       delta.Delta `json:"ops"`
	AppliedAt time.Time   `json:"appliedAt,omitempty"`
}

type OpAppliedMessage struct {
	Type            string `json:"type"` // 固定 "op_applied"
	DocID           string `json:"docId"`
	BaseRevision    uint64 `json:"baseRevision"`    // 客户端提交时的 base
	CurrentRevision uint64 `json:"currentRevision"` // 服务端应用后的最新版本
	ClientId        string `json:"clientId,omitempty"`
	ClientSeq       uint64 `json:"clientSeq,omitempty"`
	Length          int    `json:"length"`
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

func (m ServerMessage) MessageType() string      { return m.Type }
func (m JoinMessage) MessageType() string        { return m.Type }
func (m OpAppliedMessage) MessageType() string   { return m.Type }
func (m OpBroadcastMessage) MessageType() string { return m.Type }
