package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"portfwd/fwd/app"
	"portfwd/fwd/common/logx"
)

type Server struct {
	App      *app.App
	sys      *SysMonitor
	upgrader websocket.Upgrader
	log      *logx.Logger
}

func New(a *app.App) *Server {
	return &Server{
		App: a,
		sys: NewSysMonitor(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 不校验 Origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logx.New(logx.WithPrefix("api")),
	}
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg, "time": time.Now().UnixMilli()})
}

// failErr 按错误类型映射状态码：400 校验 / 404 不存在 / 500 其他
func (s *Server) failErr(c *gin.Context, err error) {
	var ve *app.ValidationError
	var nf *app.NotFoundError
	switch {
	case errors.As(err, &ve):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.As(err, &nf):
		fail(c, http.StatusNotFound, err.Error())
	default:
		s.log.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		fail(c, http.StatusInternalServerError, err.Error())
	}
}
