package server

import (
	"net/http"

	"github.com/aimerfeng/DomainDesk/internal/deal"
	"github.com/aimerfeng/DomainDesk/internal/inquiry"
	"github.com/aimerfeng/DomainDesk/internal/messaging"
	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/gin-gonic/gin"
)

// handleResolveFlag reports whether a flag is on for the caller. With
// ?inquiry_id= the caller's side in that inquiry (buyer or seller) is used as
// the role, matching how the services resolve flags; without it the platform
// role is used.
func (s *APIServer) handleResolveFlag(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	flagID := c.Param("id")
	role := string(a.Role)

	if inquiryID := c.Query("inquiry_id"); inquiryID != "" {
		inq, err := s.svc.Inquiries.Get(c.Request.Context(), inquiryID, a)
		if err != nil {
			respondError(c, err)
			return
		}
		if side := inq.ParticipantRole(a.ID); side != models.ParticipantNone {
			role = string(side)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"flag":    flagID,
		"role":    role,
		"enabled": s.svc.Flags.IsEnabledFor(c.Request.Context(), flagID, a.ID, role),
	})
}

func (s *APIServer) handleSubmitInquiry(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req inquiry.SubmitRequest
	if !bindJSON(c, &req) {
		return
	}
	req.BuyerID = a.ID
	req.IdempotencyKey = c.GetHeader(IdempotencyHeader)

	inq, err := s.svc.Inquiries.Submit(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inq)
}

func (s *APIServer) handleListInquiries(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	inquiries, err := s.svc.Inquiries.ListForActor(c.Request.Context(), a)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inquiries": inquiries})
}

func (s *APIServer) handleGetInquiry(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	inq, err := s.svc.Inquiries.Get(c.Request.Context(), c.Param("id"), a)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inq)
}

func (s *APIServer) handleInquiryHistory(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	events, err := s.svc.Inquiries.History(c.Request.Context(), c.Param("id"), a)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *APIServer) handleResubmitInquiry(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req inquiry.ResubmitRequest
	if !bindJSON(c, &req) {
		return
	}
	req.InquiryID = c.Param("id")
	req.BuyerID = a.ID

	inq, err := s.svc.Inquiries.Resubmit(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inq)
}

// handleCloseInquiry requires a JSON body carrying the closure reason
func (s *APIServer) handleCloseInquiry(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req inquiry.CloseRequest
	if !bindJSON(c, &req) {
		return
	}
	req.InquiryID = c.Param("id")
	req.Actor = a

	inq, err := s.svc.Inquiries.Close(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inq)
}

func (s *APIServer) handleThread(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	thread, err := s.svc.Messages.Thread(c.Request.Context(), c.Param("id"), a)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": thread})
}

// handleSendMessage answers 201 when delivered, 202 when held for review and
// 200 when an idempotent retry replays an earlier send
func (s *APIServer) handleSendMessage(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req messaging.SendRequest
	if !bindJSON(c, &req) {
		return
	}
	req.InquiryID = c.Param("id")
	req.SenderID = a.ID
	req.IdempotencyKey = c.GetHeader(IdempotencyHeader)

	res, err := s.svc.Messages.Send(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	code := http.StatusCreated
	switch {
	case res.Replayed:
		code = http.StatusOK
	case res.Held:
		code = http.StatusAccepted
	}
	c.JSON(code, res)
}

func (s *APIServer) handleReportMessage(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req messaging.ReportRequest
	if !bindJSON(c, &req) {
		return
	}
	req.MessageID = c.Param("id")
	req.ReporterID = a.ID

	report, err := s.svc.Messages.Report(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, report)
}

func (s *APIServer) handleConvertDeal(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req deal.ConvertRequest
	if !bindJSON(c, &req) {
		return
	}
	req.InquiryID = c.Param("id")
	req.Actor = a

	d, err := s.svc.Deals.Convert(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (s *APIServer) handleGetDeal(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	d, err := s.svc.Deals.GetByInquiry(c.Request.Context(), c.Param("id"), a)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
