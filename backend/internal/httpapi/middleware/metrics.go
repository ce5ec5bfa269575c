package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

type RequestObserver interface {
	ObserveRequest(route, code string)
}

// Metrics 按路由模板和状态码统计请求数
func Metrics(o RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		o.ObserveRequest(route, strconv.Itoa(c.Writer.Status()))
	}
}
