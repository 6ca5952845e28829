// Package handler exposes the student and admin HTTP API over gin.
package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"classroll/internal/attendance"
	"classroll/internal/auth"
	"classroll/internal/feed"
	"classroll/internal/httpmiddleware"
)

// Deps are the services the handlers call into.
type Deps struct {
	Students *attendance.Students
	Admins   *attendance.Admins
	Events   *attendance.Lifecycle
	Recorder *attendance.Recorder
	Feed     *feed.Feed
	Sessions auth.Sessions
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
	// CheckInLimit limits check-ins and logins per session or client. Zero disables it.
	CheckInLimit int
}

// Handler serves the attendance API.
type Handler struct {
	students *attendance.Students
	admins   *attendance.Admins
	events   *attendance.Lifecycle
	recorder *attendance.Recorder
	feed     *feed.Feed
	sessions auth.Sessions
	loc      *time.Location
	now      func() time.Time
	limiter  *httpmiddleware.Limiter
}

// New creates a handler.
func New(d Deps) *Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	return &Handler{
		students: d.Students,
		admins:   d.Admins,
		events:   d.Events,
		recorder: d.Recorder,
		feed:     d.Feed,
		sessions: d.Sessions,
		loc:      d.Location,
		now:      d.Now,
		limiter:  httpmiddleware.NewLimiter(d.CheckInLimit, 5, sessionOrIP),
	}
}

func sessionOrIP(c *gin.Context) string {
	if claims, ok := auth.ClaimsFrom(c); ok {
		return claims.Role + ":" + claims.Subject
	}
	return httpmiddleware.ClientIP(c)
}

// Register mounts the student and admin routes on r.
func (h *Handler) Register(r gin.IRouter) {
	limit := h.limiter.GinMiddleware()

	root := r.Group("/", h.sessions.Middleware(), h.resolve())
	root.POST("/enroll", h.Enroll)
	root.POST("/login", limit, h.Login)
	root.POST("/logout", h.Logout)
	root.GET("/profile", requireStudent, h.Profile)
	root.PUT("/profile", requireStudent, h.EditProfile)
	root.POST("/mark-attendance", requireStudent, requireEvent, limit, h.MarkAttendance)

	admin := root.Group("/admin")
	admin.POST("/login", limit, h.AdminLogin)
	admin.POST("/logout", h.AdminLogout)

	guarded := admin.Group("", requireAdmin)
	guarded.GET("/", h.Dashboard)
	guarded.POST("/start-class", h.StartClass)
	guarded.POST("/schedule-class", h.ScheduleClass)
	guarded.GET("/events/:id/attendance", h.Roster)
	guarded.GET("/live-attendance", requireEvent, h.LiveAttendance)
	guarded.GET("/live-attendance-update", requireEvent, h.LiveAttendanceUpdate)
}
