package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"classroll/internal/attendance"
	"classroll/internal/auth"
)

// Enroll registers a student and logs them in.
func (h *Handler) Enroll(c *gin.Context) {
	var form attendance.EnrollForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.students.Enroll(c.Request.Context(), form)
	if err != nil {
		respondErr(c, err)
		return
	}
	tok, err := h.sessions.Start(c, st.ID, auth.RoleStudent)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Enrolled", "student": st, "token": tok})
}

// Login identifies a student by registration number.
func (h *Handler) Login(c *gin.Context) {
	if st := current(c).Student; st != nil {
		c.JSON(http.StatusOK, gin.H{"message": "Logged in as " + st.Firstname, "student": st})
		return
	}
	var body struct {
		RegNum string `json:"reg_num" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.students.Identify(c.Request.Context(), body.RegNum)
	if errors.Is(err, attendance.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "You have to enroll first"})
		return
	}
	if err != nil {
		respondErr(c, err)
		return
	}
	tok, err := h.sessions.Start(c, st.ID, auth.RoleStudent)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged in as " + st.Firstname, "student": st, "token": tok})
}

// Logout ends the session.
func (h *Handler) Logout(c *gin.Context) {
	h.sessions.End(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Profile shows the student, today's event and whether they already checked in.
func (h *Handler) Profile(c *gin.Context) {
	req := current(c)
	ctx := c.Request.Context()
	resp := gin.H{"student": req.Student, "event": req.Event, "marked": false}
	if req.Event != nil {
		att, err := h.recorder.Find(ctx, req.Student.ID, req.Event.ID)
		if err != nil {
			respondErr(c, err)
			return
		}
		resp["marked"] = att != nil
	}
	history, err := h.recorder.History(ctx, req.Student.ID, 20)
	if err != nil {
		respondErr(c, err)
		return
	}
	resp["history"] = history
	c.JSON(http.StatusOK, resp)
}

// EditProfile updates contact details and level.
func (h *Handler) EditProfile(c *gin.Context) {
	var form attendance.EditForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req := current(c)
	st, err := h.students.Edit(c.Request.Context(), req.Student, form)
	if err != nil {
		respondErr(c, err)
		return
	}
	req.Student = st
	c.JSON(http.StatusOK, gin.H{"message": "Profile updated", "student": st})
}

// MarkAttendance checks the student into today's event.
func (h *Handler) MarkAttendance(c *gin.Context) {
	req := current(c)
	att, created, err := h.recorder.Mark(c.Request.Context(), req.Student, req.Event, req.Now)
	switch {
	case errors.Is(err, attendance.ErrAlreadyMarked):
		c.JSON(http.StatusOK, gin.H{"message": "Attendance already taken", "attendance": att, "created": false})
	case err != nil:
		respondErr(c, err)
	default:
		c.JSON(http.StatusCreated, gin.H{"message": "Attendance taken", "attendance": att, "created": created})
	}
}
