package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"classroll/internal/attendance"
	"classroll/internal/auth"
)

// AdminLogin checks credentials and starts an admin session.
func (h *Handler) AdminLogin(c *gin.Context) {
	var body struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	admin, err := h.admins.Login(c.Request.Context(), body.Username, body.Password)
	if err != nil {
		respondErr(c, err)
		return
	}
	tok, err := h.sessions.Start(c, admin.ID, auth.RoleAdmin)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged In as Admin", "admin": admin, "token": tok})
}

// AdminLogout ends the admin session.
func (h *Handler) AdminLogout(c *gin.Context) {
	h.sessions.End(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Dashboard shows today's event and upcoming scheduled ones.
func (h *Handler) Dashboard(c *gin.Context) {
	req := current(c)
	upcoming, err := h.events.Upcoming(c.Request.Context(), req.Now, 30)
	if err != nil {
		respondErr(c, err)
		return
	}
	today := h.events.Today(req.Now)
	schedule := make([]gin.H, 0, len(upcoming))
	for _, evt := range upcoming {
		schedule = append(schedule, gin.H{"event": evt, "state": evt.State(today)})
	}
	c.JSON(http.StatusOK, gin.H{"admin": req.Admin, "event": req.Event, "schedule": schedule})
}

// StartClass opens an event for today.
func (h *Handler) StartClass(c *gin.Context) {
	req := current(c)
	if req.Event != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "There is already a class scheduled for today"})
		return
	}
	evt, err := h.events.OpenNow(c.Request.Context(), req.Admin, req.Now)
	if errors.Is(err, attendance.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "There is already a class scheduled for today"})
		return
	}
	if err != nil {
		respondErr(c, err)
		return
	}
	req.Event = evt
	c.JSON(http.StatusCreated, gin.H{"message": evt.String() + " Opened for attendance", "event": evt})
}

// ScheduleClass creates an event at a given date ("2006-01-02") and time ("15:04").
func (h *Handler) ScheduleClass(c *gin.Context) {
	var body struct {
		Date string `json:"date" form:"date" binding:"required"`
		Time string `json:"time" form:"time" binding:"required"`
	}
	if err := c.ShouldBind(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	startsAt, err := time.ParseInLocation("2006-01-02 15:04", strings.TrimSpace(body.Date)+" "+strings.TrimSpace(body.Time), h.loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD and time HH:MM"})
		return
	}
	req := current(c)
	evt, err := h.events.Schedule(c.Request.Context(), req.Admin, startsAt, req.Now)
	if errors.Is(err, attendance.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "Cannot schedule class for " + startsAt.Format("Mon 02, Jan 2006") + ", clashes with another"})
		return
	}
	if err != nil {
		respondErr(c, err)
		return
	}
	isToday := evt.Day.Equal(h.events.Today(req.Now))
	if isToday {
		req.Event = evt
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Added new class " + evt.String() + " to class schedules", "event": evt, "current": isToday})
}

// Roster lists who checked into an event.
func (h *Handler) Roster(c *gin.Context) {
	entries, err := h.recorder.Roster(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": entries})
}

// LiveAttendance returns the recently seen buffer for the initial render.
func (h *Handler) LiveAttendance(c *gin.Context) {
	records, err := h.feed.Snapshot(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": current(c).Event, "records": records})
}

// LiveAttendanceUpdate streams new attendance as server-sent events until the
// client goes away. The subscription is taken before any header is sent so a
// broker outage is reported as 503 rather than as an empty stream.
func (h *Handler) LiveAttendanceUpdate(c *gin.Context) {
	admin := current(c).Admin
	listener, err := h.feed.Listen(c.Request.Context())
	if err != nil {
		log.Printf("live feed: admin %s subscribe failed: %v", admin.Username, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Live feed unavailable"})
		return
	}
	defer listener.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	log.Printf("live feed: admin %s connected", admin.Username)
	err = listener.Serve(c.Request.Context(), c.Writer)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("live feed: admin %s stream ended: %v", admin.Username, err)
		return
	}
	log.Printf("live feed: admin %s disconnected", admin.Username)
}
