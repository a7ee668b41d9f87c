package server

import (
	"net/http"

	"github.com/aimerfeng/DomainDesk/internal/inquiry"
	"github.com/aimerfeng/DomainDesk/internal/messaging"
	"github.com/gin-gonic/gin"
)

func (s *APIServer) handleModerationQueue(c *gin.Context) {
	queue, err := s.svc.Projection.GetQueue(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, queue)
}

func (s *APIServer) handleStats(c *gin.Context) {
	stats, err := s.svc.Projection.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{"stats": stats}
	if s.svc.Refresher != nil {
		resp["refresher"] = s.svc.Refresher.Status()
	}
	c.JSON(http.StatusOK, resp)
}

// handleListFlags returns the flag definitions currently in force
func (s *APIServer) handleListFlags(c *gin.Context) {
	defs, err := s.svc.Flags.Snapshot(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flags": defs})
}

func (s *APIServer) handleDecideInquiry(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req inquiry.DecideRequest
	if !bindJSON(c, &req) {
		return
	}
	req.InquiryID = c.Param("id")
	req.ReviewerID = a.ID

	inq, err := s.svc.Inquiries.Decide(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inq)
}

func (s *APIServer) handleListDecisions(c *gin.Context) {
	decisions, err := s.svc.Inquiries.Decisions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}

func (s *APIServer) handleApproveMessage(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	msg, err := s.svc.Messages.Approve(c.Request.Context(), c.Param("id"), a.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *APIServer) handleRejectMessage(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req messaging.RejectRequest
	if !bindJSON(c, &req) {
		return
	}
	req.MessageID = c.Param("id")
	req.ReviewerID = a.ID

	msg, err := s.svc.Messages.Reject(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *APIServer) handleResolveReport(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	report, err := s.svc.Messages.ResolveReport(c.Request.Context(), c.Param("id"), a.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
