package cache

import "fmt"

// 键语义：
// - roomKey(docID):            房间在线成员（ZSet<userId, expireAtUnix>，score=expireAt）
// - namesKey(docID):           房间内 userId→username 映射（Hash）
// - cursorKey(docID, userID):  成员光标 JSON（String，带 TTL）
// - contentKey(docID, rev):    某个版本的完整文档内容（String，带随机 TTL）

const (
	keyRoomFmt    = "presence:room:{docID:%s}"       // ZSet<userId, expireAtUnix>
	keyNamesFmt   = "presence:room:names:{docID:%s}" // Hash<userId -> username>
	keyCursorFmt  = "presence:cursor:{docID:%s}:%d"  // String JSON with TTL
	keyContentFmt = "content:{docID:%s}:rev:%d"      // String with TTL
)

func roomKey(docID string) string                  { return fmt.Sprintf(keyRoomFmt, docID) }
func namesKey(docID string) string                 { return fmt.Sprintf(keyNamesFmt, docID) }
func cursorKey(docID string, userID uint64) string { return fmt.Sprintf(keyCursorFmt, docID, userID) }
func contentKey(docID string, rev uint64) string   { return fmt.Sprintf(keyContentFmt, docID, rev) }
