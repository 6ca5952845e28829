package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"classroll/internal/attendance"
	"classroll/internal/auth"
)

const requestKey = "classroll_request"

// Request is the per-request state every handler works from. It is built
// once by the resolve middleware and never shared across requests.
type Request struct {
	Now     time.Time
	Student *attendance.Student
	Admin   *attendance.Admin
	Event   *attendance.Event
}

// current returns the Request built for c. Routes outside the resolved groups
// get an empty Request.
func current(c *gin.Context) *Request {
	if v, ok := c.Get(requestKey); ok {
		if req, ok := v.(*Request); ok {
			return req
		}
	}
	return &Request{}
}

// resolve loads the session principal and today's event, auto-closing any
// event whose day has passed.
func (h *Handler) resolve() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		req := &Request{Now: h.now().In(h.loc)}
		if claims, ok := auth.ClaimsFrom(c); ok {
			var err error
			switch claims.Role {
			case auth.RoleStudent:
				req.Student, err = h.students.Get(ctx, claims.Subject)
			case auth.RoleAdmin:
				req.Admin, err = h.admins.Get(ctx, claims.Subject)
			}
			if err != nil {
				respondErr(c, err)
				c.Abort()
				return
			}
		}
		evt, err := h.events.Resolve(ctx, req.Now)
		if err != nil {
			respondErr(c, err)
			c.Abort()
			return
		}
		req.Event = evt
		c.Set(requestKey, req)
		c.Next()
	}
}

func requireStudent(c *gin.Context) {
	if current(c).Student == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "First input your registration number for identification"})
		return
	}
	c.Next()
}

func requireAdmin(c *gin.Context) {
	if current(c).Admin == nil {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Not Allowed"})
		return
	}
	c.Next()
}

func requireEvent(c *gin.Context) {
	req := current(c)
	if req.Event == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": noEventMessage(req)})
		return
	}
	c.Next()
}

func noEventMessage(req *Request) string {
	return "No Class slated for " + req.Now.Format("Mon 02, Jan 2006")
}
