package collab

import (
	"piecetable/backend/internal/ot/delta"
	"time"
)

const EventOpApplied = "OP_APPLIED"

type DocOpEvent struct {
	EventType    string      `json:"eventType"` // 固定 "OP_APPLIED"
	DocID        string      `json:"docId"`
	OperationID  string      `json:"operationId"`
	Revision     uint64      `json:"revision"`
	AuthorID     uint64      `json:"authorId"`
	ClientID     string      `json:"clientId"`
	ClientSeq    uint64      `json:"clientSeq"` // 针对同一个 clientId 的“本地递增序号”
	BaseRevision uint64      `json:"baseRevision"`
	Ops          delta.Delta `json:"ops"`
	Length       int         `json:"length"` // 应用之后的文档长度
	AppliedAt    time.Time   `json:"appliedAt"`
}
