package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroll/internal/attendance"
	"classroll/internal/auth"
	"classroll/internal/feed"
)

var lagos = time.FixedZone("WAT", 60*60)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testApp struct {
	router *gin.Engine
	store  *attendance.MemStore
	broker *feed.InMemory
	clock  *clock
	admin  string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	return newTestAppWith(t, nil)
}

// newTestAppWith lets wrap stand in front of the in-memory broker.
func newTestAppWith(t *testing.T, wrap func(*feed.InMemory) feed.Broker) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	app := &testApp{
		store:  attendance.NewMemStore(),
		broker: feed.NewInMemory(16),
		clock:  &clock{now: time.Date(2024, time.March, 4, 8, 0, 0, 0, lagos)},
	}
	var broker feed.Broker = app.broker
	if wrap != nil {
		broker = wrap(app.broker)
	}
	live := feed.New(broker, feed.Options{Retry: 5, Mask: []string{"reg_num", "level"}, Location: lagos})
	events := attendance.NewLifecycle(app.store, live, lagos)
	admins := attendance.NewAdmins(app.store)
	h := New(Deps{
		Students: attendance.NewStudents(app.store),
		Admins:   admins,
		Events:   events,
		Recorder: attendance.NewRecorder(app.store, events, live),
		Feed:     live,
		Sessions: auth.Sessions{Key: "test-key", Issuer: "classroll", TTL: time.Hour},
		Location: lagos,
		Now:      app.clock.Now,
	})
	app.router = gin.New()
	h.Register(app.router)

	_, err := admins.Create(context.Background(), "grace", "Grace", "Hopper", "correct horse")
	require.NoError(t, err)
	w := app.do(t, http.MethodPost, "/admin/login", "", gin.H{"username": "grace", "password": "correct horse"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	app.admin = decode(t, w)["token"].(string)
	return app
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testApp) enroll(t *testing.T, regNum, firstname string) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/enroll", "", gin.H{
		"reg_num":    regNum,
		"firstname":  firstname,
		"lastname":   "Obi",
		"department": "CSC",
		"level":      300,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["token"].(string)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func readFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	got := make(chan string, 1)
	go func() {
		var b strings.Builder
		for {
			line, err := r.ReadString('\n')
			b.WriteString(line)
			if err != nil || line == "\n" {
				got <- b.String()
				return
			}
		}
	}()
	select {
	case frame := <-got:
		return frame
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event-stream frame")
		return ""
	}
}

// unsubscribable is a broker that publishes normally but refuses viewers.
type unsubscribable struct {
	*feed.InMemory
}

func (unsubscribable) Subscribe(context.Context, string) (feed.Subscription, error) {
	return nil, errors.New("redis: connection refused")
}

func TestLiveFeedUnavailable(t *testing.T) {
	app := newTestAppWith(t, func(mem *feed.InMemory) feed.Broker { return unsubscribable{mem} })

	app.clock.Set(time.Date(2024, time.March, 4, 9, 0, 0, 0, lagos))
	w := app.do(t, http.MethodPost, "/admin/start-class", app.admin, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = app.do(t, http.MethodGet, "/admin/live-attendance-update", app.admin, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotEqual(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "Live feed unavailable", decode(t, w)["error"])

	// Check-ins still go through while viewers cannot attach.
	ada := app.enroll(t, "2019/123456", "Ada")
	w = app.do(t, http.MethodPost, "/mark-attendance", ada, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = app.do(t, http.MethodGet, "/admin/live-attendance", app.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["records"], 1)
}

func TestCheckInReachesLiveViewer(t *testing.T) {
	app := newTestApp(t)

	app.clock.Set(time.Date(2024, time.March, 4, 9, 0, 0, 0, lagos))
	w := app.do(t, http.MethodPost, "/admin/start-class", app.admin, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	eventID := decode(t, w)["event"].(map[string]any)["id"].(string)

	ada := app.enroll(t, "2019/123456", "Ada")
	bola := app.enroll(t, "2020/654321", "Bola")

	srv := httptest.NewServer(app.router)
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/admin/live-attendance-update", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+app.admin)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Eventually(t, func() bool { return app.broker.Subscribers("attendance-update") == 1 }, 2*time.Second, 5*time.Millisecond)

	app.clock.Set(time.Date(2024, time.March, 4, 9, 5, 0, 0, lagos))
	w = app.do(t, http.MethodPost, "/mark-attendance", ada, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["created"])

	w = app.do(t, http.MethodPost, "/mark-attendance", ada, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, decode(t, w)["created"])
	assert.Equal(t, 1, app.store.AttendanceCount())

	app.clock.Set(time.Date(2024, time.March, 4, 9, 7, 0, 0, lagos))
	w = app.do(t, http.MethodPost, "/mark-attendance", bola, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	stream := bufio.NewReader(resp.Body)
	assert.Equal(t,
		"event:new_attendance\n"+
			`data:{"firstname":"Ada","lastname":"Obi","department":"CSC","arrival_time":"09 : 05"}`+"\n"+
			"retry:5\n\n",
		readFrame(t, stream))
	// The duplicate check-in published nothing, so Bola's record is next.
	assert.Contains(t, readFrame(t, stream), `"firstname":"Bola"`)

	w = app.do(t, http.MethodGet, "/admin/live-attendance", app.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	records := decode(t, w)["records"].([]any)
	require.Len(t, records, 2)
	assert.Equal(t, "Bola", records[0].(map[string]any)["firstname"])

	w = app.do(t, http.MethodGet, "/admin/events/"+eventID+"/attendance", app.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["attendance"], 2)
}

func TestEventLifecycleOverHTTP(t *testing.T) {
	app := newTestApp(t)
	ada := app.enroll(t, "2019/123456", "Ada")

	t.Run("no class yet", func(t *testing.T) {
		w := app.do(t, http.MethodPost, "/mark-attendance", ada, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "No Class slated for Mon 04, Mar 2024", decode(t, w)["error"])
	})

	t.Run("students cannot open classes", func(t *testing.T) {
		w := app.do(t, http.MethodPost, "/admin/start-class", ada, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("schedule today then clash", func(t *testing.T) {
		w := app.do(t, http.MethodPost, "/admin/schedule-class", app.admin, gin.H{"date": "2024-03-04", "time": "10:00"})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.Equal(t, true, decode(t, w)["current"])

		w = app.do(t, http.MethodPost, "/admin/start-class", app.admin, nil)
		assert.Equal(t, http.StatusConflict, w.Code)

		w = app.do(t, http.MethodPost, "/admin/schedule-class", app.admin, gin.H{"date": "2024-03-04", "time": "15:00"})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "Cannot schedule class for Mon 04, Mar 2024, clashes with another", decode(t, w)["error"])
	})

	t.Run("future and past dates", func(t *testing.T) {
		w := app.do(t, http.MethodPost, "/admin/schedule-class", app.admin, gin.H{"date": "2024-03-06", "time": "09:30"})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.Equal(t, false, decode(t, w)["current"])

		w = app.do(t, http.MethodPost, "/admin/schedule-class", app.admin, gin.H{"date": "2024-03-01", "time": "09:30"})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = app.do(t, http.MethodPost, "/admin/schedule-class", app.admin, gin.H{"date": "04/03/2024", "time": "9"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("check in and profile", func(t *testing.T) {
		w := app.do(t, http.MethodPost, "/mark-attendance", ada, nil)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		w = app.do(t, http.MethodGet, "/profile", ada, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, true, body["marked"])
		assert.Len(t, body["history"], 1)
	})

	t.Run("dashboard lists the schedule", func(t *testing.T) {
		w := app.do(t, http.MethodGet, "/admin/", app.admin, nil)
		require.Equal(t, http.StatusOK, w.Code)
		schedule := decode(t, w)["schedule"].([]any)
		require.Len(t, schedule, 2)
		assert.Equal(t, "open", schedule[0].(map[string]any)["state"])
		assert.Equal(t, "scheduled", schedule[1].(map[string]any)["state"])
	})

	t.Run("yesterday's class closes at midnight", func(t *testing.T) {
		app.clock.Set(time.Date(2024, time.March, 5, 0, 1, 0, 0, lagos))
		w := app.do(t, http.MethodPost, "/mark-attendance", ada, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = app.do(t, http.MethodGet, "/admin/live-attendance", app.admin, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		evt, err := app.store.EventOn(context.Background(), time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.True(t, evt.Closed)
	})
}

func TestStudentAccount(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodPost, "/login", "", gin.H{"reg_num": "2019/123456"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "You have to enroll first", decode(t, w)["error"])

	w = app.do(t, http.MethodPost, "/enroll", "", gin.H{"reg_num": "bad", "firstname": "Ada", "lastname": "Obi", "department": "CSC", "level": 300})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decode(t, w)["problems"])

	app.enroll(t, "2019/123456", "Ada")
	w = app.do(t, http.MethodPost, "/enroll", "", gin.H{"reg_num": "2019/123456", "firstname": "Ada", "lastname": "Obi", "department": "CSC", "level": 300})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = app.do(t, http.MethodPost, "/login", "", gin.H{"reg_num": "2019/123456"})
	require.Equal(t, http.StatusOK, w.Code)
	tok := decode(t, w)["token"].(string)

	w = app.do(t, http.MethodPut, "/profile", tok, gin.H{"level": 400})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(400), decode(t, w)["student"].(map[string]any)["level"])

	w = app.do(t, http.MethodGet, "/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.do(t, http.MethodPost, "/admin/login", "", gin.H{"username": "grace", "password": "wrong password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
