package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"piecetable/backend/internal/collab"
	"piecetable/backend/internal/ot/delta"
	"piecetable/backend/internal/piecetable"
)

type DocumentHandler struct {
	svc collab.Service
}

func NewDocumentHandler(svc collab.Service) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

// Register 挂载文档路由，调用方负责在 group 上挂鉴权中间件
func (h *DocumentHandler) Register(g *gin.RouterGroup) {
	g.POST("/docs", h.CreateDocument)
	g.POST("/docs/:docID/open", h.OpenDocument)
	g.POST("/docs/:docID/insert", h.Insert)
	g.POST("/docs/:docID/delete", h.Delete)
	g.POST("/docs/:docID/apply", h.Apply)
	g.GET("/docs/:docID/char/:position", h.CharAt)
	g.GET("/docs/:docID/length", h.Length)
	g.GET("/docs/:docID/content", h.Content)
	g.GET("/docs/:docID/pieces", h.Pieces)
	g.GET("/docs/:docID/ops", h.OpsSince)
	g.POST("/docs/:docID/snapshot", h.SaveSnapshot)
}

type createReq struct {
	Title string `json:"title" binding:"required"`
}

type openReq struct {
	Content string `json:"content"`
}

type insertReq struct {
	Text     string `json:"text"`
	Position *int   `json:"position" binding:"required"`
}

type deleteReq struct {
	Position *int `json:"position" binding:"required"`
	Length   *int `json:"length" binding:"required"`
}

type applyReq struct {
	BaseRevision uint64      `json:"baseRevision"`
	ClientId     string      `json:"clientId" binding:"required"`
	ClientSeq    uint64      `json:"clientSeq"`
	Ops          delta.Delta `json:"ops"`
}

type pieceResp struct {
	Source string `json:"source"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// 从 gin.Context 获取鉴权中间件写入的用户 ID，未鉴权时为 0
func userID(c *gin.Context) uint64 {
	return c.GetUint64("userId")
}

func (h *DocumentHandler) CreateDocument(c *gin.Context) {
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	docID, err := h.svc.CreateDocument(c.Request.Context(), userID(c), req.Title)
	if err != nil {
		writeError(c, err)
		return
	}
	if _, err := h.svc.OpenDocument(c.Request.Context(), docID, ""); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"docId": docID, "title": req.Title})
}

func (h *DocumentHandler) OpenDocument(c *gin.Context) {
	var req openReq
	// body 可以为空
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	docID := c.Param("docID")
	rev, err := h.svc.OpenDocument(c.Request.Context(), docID, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	n, err := h.svc.Length(c.Request.Context(), docID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "revision": rev, "length": n})
}

func (h *DocumentHandler) Insert(c *gin.Context) {
	var req insertReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	op, err := h.svc.Insert(c.Request.Context(), c.Param("docID"), userID(c), req.Text, *req.Position)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, appliedResp(op))
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	var req deleteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	op, err := h.svc.Delete(c.Request.Context(), c.Param("docID"), userID(c), *req.Position, *req.Length)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, appliedResp(op))
}

func (h *DocumentHandler) Apply(c *gin.Context) {
	var req applyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	op, err := h.svc.Submit(c.Request.Context(), c.Param("docID"), userID(c),
		req.BaseRevision, req.ClientId, req.ClientSeq, req.Ops)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, appliedResp(op))
}

func (h *DocumentHandler) CharAt(c *gin.Context) {
	pos, err := strconv.Atoi(c.Param("position"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "position must be an integer"})
		return
	}
	r, err := h.svc.CharAt(c.Request.Context(), c.Param("docID"), pos)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": pos, "char": string(r)})
}

func (h *DocumentHandler) Length(c *gin.Context) {
	n, err := h.svc.Length(c.Request.Context(), c.Param("docID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"length": n})
}

func (h *DocumentHandler) Content(c *gin.Context) {
	content, rev, err := h.svc.LoadDocumentContent(c.Request.Context(), c.Param("docID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": content, "revision": rev})
}

func (h *DocumentHandler) Pieces(c *gin.Context) {
	pieces, err := h.svc.Pieces(c.Request.Context(), c.Param("docID"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]pieceResp, len(pieces))
	for i, p := range pieces {
		out[i] = pieceResp{Source: p.Source.String(), Offset: p.Offset, Length: p.Length}
	}
	c.JSON(http.StatusOK, gin.H{"pieces": out})
}

func (h *DocumentHandler) OpsSince(c *gin.Context) {
	from, err := strconv.ParseUint(c.DefaultQuery("from", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be an unsigned integer"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	ops, err := h.svc.OpsSince(c.Request.Context(), c.Param("docID"), from, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gin.H, len(ops))
	for i, op := range ops {
		out[i] = appliedResp(op)
	}
	c.JSON(http.StatusOK, gin.H{"ops": out})
}

func (h *DocumentHandler) SaveSnapshot(c *gin.Context) {
	if err := h.svc.SaveSnapshot(c.Request.Context(), c.Param("docID")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "saved"})
}

func appliedResp(op collab.AppliedOp) gin.H {
	return gin.H{
		"operationId": op.OperationId,
		"revision":    op.Revision,
		"authorId":    op.AuthorId,
		"ops":         op.Ops,
		"length":      op.Length,
		"appliedAt":   op.AppliedAt,
	}
}

// writeError 把业务错误映射成 HTTP 状态码，越界类错误带上具体字段
func writeError(c *gin.Context, err error) {
	var (
		oob *piecetable.PositionOutOfBoundsError
		dre *piecetable.DeleteRangeInvalidError
	)
	switch {
	case errors.As(err, &oob):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":      "POSITION_OUT_OF_BOUNDS",
			"error":     err.Error(),
			"requested": oob.Requested,
			"max":       oob.Max,
		})
	case errors.As(err, &dre):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":           "DELETE_RANGE_INVALID",
			"error":          err.Error(),
			"position":       dre.Position,
			"length":         dre.Length,
			"documentLength": dre.DocumentLength,
		})
	case errors.Is(err, delta.ErrDeltaInvalid):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "DELTA_INVALID", "error": err.Error()})
	case errors.Is(err, collab.ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "DOCUMENT_NOT_FOUND", "error": err.Error()})
	case errors.Is(err, collab.ErrRevisionConflict), errors.Is(err, collab.ErrDuplicateOrOutOfOrder):
		c.JSON(http.StatusConflict, gin.H{"code": err.Error(), "error": err.Error()})
	case errors.Is(err, collab.ErrStoreNotInitialized):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "UNAVAILABLE", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
	}
}
