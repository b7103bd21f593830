package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"portfwd/fwd/model"
)

type forwardPayload struct {
	Name       *string `json:"name"`
	SourcePort *int    `json:"source_port"`
	TargetHost *string `json:"target_host"`
	TargetPort *int    `json:"target_port"`
	Enabled    *bool   `json:"enabled"`
}

// apply 只覆盖请求里给出的字段
func (p forwardPayload) apply(f *model.RuleFields) {
	if p.Name != nil {
		f.Name = *p.Name
	}
	if p.SourcePort != nil {
		f.SourcePort = *p.SourcePort
	}
	if p.TargetHost != nil {
		f.TargetHost = *p.TargetHost
	}
	if p.TargetPort != nil {
		f.TargetPort = *p.TargetPort
	}
	if p.Enabled != nil {
		f.Enabled = *p.Enabled
	}
}

func pathId(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (s *Server) listForwards(c *gin.Context) {
	rules, err := s.App.ListRules()
	if err != nil {
		s.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": rules, "total": len(rules)})
}

func (s *Server) getForward(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	r, err := s.App.GetRule(id)
	if err != nil {
		s.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// 未给 enabled 时默认启用
func (s *Server) createForward(c *gin.Context) {
	var p forwardPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	f := model.RuleFields{Enabled: true}
	p.apply(&f)
	r, err := s.App.CreateRule(f)
	if err != nil {
		s.failErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (s *Server) updateForward(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var p forwardPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	r, err := s.App.PatchRule(id, p.apply)
	if err != nil {
		s.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) toggleForward(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	enabled, err := s.App.ToggleRule(id)
	if err != nil {
		s.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}

func (s *Server) deleteForward(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	if err := s.App.DeleteRule(id); err != nil {
		s.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) resync(c *gin.Context) {
	bs, err := s.App.Resync()
	if err != nil {
		s.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": bs})
}

func (s *Server) listBindings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"list": s.App.Bindings()})
}
