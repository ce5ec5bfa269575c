package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"piecetable/backend/internal/collab"

	"github.com/gorilla/websocket"
)

const (
	presenceTTL   = 600 * time.Second
	submitTimeout = 200 * time.Millisecond
)

type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	docID    string
	userID   uint64
	username string
	// 出站队列，writeLoop 持续消费
	send chan OutboundMessage
	// readLoop 退出时关闭，send 本身不关闭，避免广播向已关闭的通道写入
	closed    chan struct{}
	closeOnce sync.Once
	//协作引擎服务
	svc collab.Service
	// 信号量控制
	sem *collab.SemaphoreControl
}

func NewConn(ws *websocket.Conn, hub *Hub, userID uint64, username string, svc collab.Service, sem *collab.SemaphoreControl) *Conn {
	return &Conn{
		ws:       ws,
		hub:      hub,
		userID:   userID,
		username: username,
		send:     make(chan OutboundMessage, 32),
		closed:   make(chan struct{}),
		svc:      svc,
		sem:      sem,
	}
}

// SendMessage_Enqueue 非阻塞入队，队列满或连接已关闭时丢弃消息
func (c *Conn) SendMessage_Enqueue(msg OutboundMessage) {
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Conn) sendError(content string) {
	c.SendMessage_Enqueue(ServerMessage{Type: "error", DocID: c.docID, Content: content})
}

// leave 离开当前房间并停止写循环
func (c *Conn) leave() {
	if c.docID != "" {
		c.hub.Leave(c.docID, c)
	}
	c.closeOnce.Do(func() { close(c.closed) })
}

// 限流 + 超时后执行一次编辑，成功时回 ack 并广播
func (c *Conn) withSubmitSlot(ctx context.Context, fn func(ctx context.Context) error) {
	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	if c.sem != nil {
		if err := c.sem.Acquire(submitCtx); err != nil {
			c.sendError(err.Error())
			return
		}
		defer c.sem.Release()
	}
	if err := fn(submitCtx); err != nil {
		c.sendError(err.Error())
	}
}

func (c *Conn) ackAndBroadcast(base uint64, clientID string, clientSeq uint64, op collab.AppliedOp) {
	c.SendMessage_Enqueue(OpAppliedMessage{
		Type:            "op_applied",
		DocID:           c.docID,
		BaseRevision:    base,
		CurrentRevision: op.Revision,
		ClientId:        clientID,
		ClientSeq:       clientSeq,
		Length:          op.Length,
	})
	c.hub.BroadcastAppliedOp(c.docID, c, op)
}

func (c *Conn) handleJoin(ctx context.Context, msg ClientMessage) {
	if msg.DocID == "" {
		c.sendError("missing docId")
		return
	}
	rev, err := c.svc.OpenDocument(ctx, msg.DocID, msg.Content)
	if err != nil {
		log.Printf("open document error (user=%d, doc=%s): %v", c.userID, msg.DocID, err)
		c.sendError("OPEN_DOC_FAILED")
		return
	}
	// 先离开旧房间
	if c.docID != "" && c.docID != msg.DocID {
		c.hub.Leave(c.docID, c)
	}
	c.docID = msg.DocID
	c.hub.Join(c.docID, c)
	c.refreshPresence(ctx)

	n, _ := c.svc.Length(ctx, c.docID)
	c.SendMessage_Enqueue(JoinMessage{Type: "joinDocument", DocID: c.docID, Revision: rev, Length: n})
}

func (c *Conn) refreshPresence(ctx context.Context) {
	if c.hub.presence == nil || c.docID == "" {
		return
	}
	if err := c.hub.presence.AddMember(ctx, c.docID, c.userID, c.username, presenceTTL); err != nil {
		log.Printf("add member error: %v", err)
		return
	}
	members, err := c.hub.presence.GetAliveMembersWithNames(ctx, c.docID)
	if err != nil {
		log.Printf("get members error: %v", err)
		return
	}
	out := make([]PresenceMember, len(members))
	for i, m := range members {
		out[i] = PresenceMember{UserID: m.UserID, Username: m.Username}
	}
	c.hub.BroadcastPresence(c.docID, out)
}

func (c *Conn) readLoop(ctx context.Context) {
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			log.Printf("read json error (user=%d, doc=%s): %v", c.userID, c.docID, err)
			return
		}

		if msg.Type != "joinDocument" && msg.Type != "heartbeat" && c.docID == "" {
			c.sendError("join a document first")
			continue
		}

		switch msg.Type {
		case "heartbeat":
			c.refreshPresence(ctx)
			c.SendMessage_Enqueue(ServerMessage{Type: "feedback", Content: "Heartbeat received"})

		case "joinDocument":
			c.handleJoin(ctx, msg)

		case "op_submit":
			c.withSubmitSlot(ctx, func(ctx context.Context) error {
				op, err := c.svc.Submit(ctx, c.docID, c.userID, msg.BaseRevision, msg.ClientId, msg.ClientSeq, msg.Ops)
				if err != nil {
					return err
				}
				c.ackAndBroadcast(msg.BaseRevision, msg.ClientId, msg.ClientSeq, op)
				return nil
			})

		case "insert":
			c.withSubmitSlot(ctx, func(ctx context.Context) error {
				op, err := c.svc.Insert(ctx, c.docID, c.userID, msg.Text, msg.Position)
				if err != nil {
					return err
				}
				c.ackAndBroadcast(op.Revision-1, "", 0, op)
				return nil
			})

		case "delete":
			c.withSubmitSlot(ctx, func(ctx context.Context) error {
				op, err := c.svc.Delete(ctx, c.docID, c.userID, msg.Position, msg.Length)
				if err != nil {
					return err
				}
				c.ackAndBroadcast(op.Revision-1, "", 0, op)
				return nil
			})

		case "cursor":
			if len(msg.Cursor) == 0 {
				c.sendError("missing cursor")
				continue
			}
			if c.hub.presence != nil {
				if err := c.hub.presence.SetCursor(ctx, c.docID, c.userID, msg.Cursor, presenceTTL); err != nil {
					log.Printf("set cursor error: %v", err)
				}
			}
			c.hub.BroadcastCursor(c.docID, c, msg.Cursor)

		case "saveDocument":
			if err := c.svc.SaveSnapshot(ctx, c.docID); err != nil {
				log.Printf("save document error: %v", err)
				c.SendMessage_Enqueue(ServerMessage{Type: "saveDocument", DocID: c.docID, Content: "save failed"})
				continue
			}
			c.SendMessage_Enqueue(ServerMessage{Type: "saveDocument", DocID: c.docID, Content: "saved"})

		case "loadDocumentContent":
			content, revision, err := c.svc.LoadDocumentContent(ctx, c.docID)
			if err != nil {
				log.Printf("load document content error: %v", err)
				c.sendError(err.Error())
				continue
			}
			c.SendMessage_Enqueue(ServerMessage{Type: "loadDocumentContent", DocID: c.docID, Content: content, Revision: revision})

		default:
			// 忽略未知类型，回一条提示
			c.SendMessage_Enqueue(ServerMessage{Type: "ignored", Content: "Unknown message type"})
		}
	}
}

func (c *Conn) writeLoop() {
	// 持续消费通道中的消息，直到连接关闭
	for {
		select {
		case msg := <-c.send:
			if err := c.ws.WriteJSON(msg); err != nil {
				log.Printf("write json error (user=%d): %v", c.userID, err)
				return
			}
		case <-c.closed:
			return
		}
	}
}
