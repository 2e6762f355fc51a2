package http

import (
	nethttp "net/http"
	"strconv"
	"time"

	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/app/chat"
	"github.com/dkeye/Beacon/internal/app/location"
	"github.com/dkeye/Beacon/internal/app/profile"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	userKey      = "user"
	lastGroupKey = "last_group"
)

type handlers struct {
	svc *Services
}

func (h *handlers) requireUser(c *gin.Context) {
	u, err := h.svc.Auth.User()
	if err != nil {
		fail(c, err)
		return
	}
	c.Set(userKey, u)
	c.Next()
}

func currentUser(c *gin.Context) domain.User {
	u, _ := c.MustGet(userKey).(domain.User)
	return u
}

type credentials struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Username string `json:"username"`
}

// sessionView hides the tokens from the local API.
type sessionView struct {
	User      domain.User `json:"user"`
	ExpiresAt time.Time   `json:"expires_at"`
}

func viewOf(s *domain.Session) sessionView {
	return sessionView{User: s.User, ExpiresAt: s.ExpiresAt}
}

func (h *handlers) signIn(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, err := h.svc.Auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, viewOf(s))
}

func (h *handlers) signUp(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": "email, password and username are required"})
		return
	}
	s, err := h.svc.Auth.SignUp(c.Request.Context(), req.Email, req.Password, req.Username)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusCreated, viewOf(s))
}

func (h *handlers) restore(c *gin.Context) {
	s, err := h.svc.Auth.Restore(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, viewOf(s))
}

func (h *handlers) signOut(c *gin.Context) {
	if u, err := h.svc.Auth.User(); err == nil {
		h.svc.Orch.CloseAll(c.Request.Context(), u.ID)
	}
	if err := h.svc.Auth.SignOut(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	sess := sessions.Default(c)
	sess.Clear()
	_ = sess.Save()
	c.Status(nethttp.StatusNoContent)
}

func (h *handlers) me(c *gin.Context) {
	sess := sessions.Default(c)
	c.JSON(nethttp.StatusOK, gin.H{
		"user":       currentUser(c),
		"biometrics": h.svc.Auth.BiometricsEnabled(c.Request.Context()),
		"active":     h.svc.Orch.Active(),
		"last_group": sess.Get(lastGroupKey),
	})
}

func (h *handlers) setBiometrics(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.Auth.SetBiometrics(c.Request.Context(), *req.Enabled); err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"enabled": *req.Enabled})
}

func (h *handlers) groups(c *gin.Context) {
	groups, err := h.svc.Directory.Groups(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, groups)
}

func (h *handlers) areas(c *gin.Context) {
	areas, err := h.svc.Directory.Areas(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, areas)
}

func (h *handlers) customers(c *gin.Context) {
	list, err := h.svc.Directory.Customers(c.Request.Context(), domain.GroupID(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, list)
}

// openRoom opens the chat named by :id and remembers it in the client session.
func (h *handlers) openRoom(c *gin.Context) (*chat.Room, bool) {
	group := domain.GroupID(c.Param("id"))
	room, err := h.svc.Orch.OpenChat(c.Request.Context(), group)
	if err != nil {
		fail(c, err)
		return nil, false
	}
	sess := sessions.Default(c)
	if sess.Get(lastGroupKey) != string(group) {
		sess.Set(lastGroupKey, string(group))
		_ = sess.Save()
	}
	return room, true
}

func (h *handlers) openChat(c *gin.Context) {
	room, ok := h.openRoom(c)
	if !ok {
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"topic": room.Topic(), "messages": room.Messages()})
}

func (h *handlers) closeChat(c *gin.Context) {
	if _, ok := h.svc.Orch.ChatFor(domain.GroupID(c.Param("id"))); !ok {
		c.Status(nethttp.StatusNotFound)
		return
	}
	h.svc.Orch.CloseChat(c.Request.Context())
	c.Status(nethttp.StatusNoContent)
}

func (h *handlers) messages(c *gin.Context) {
	room, ok := h.openRoom(c)
	if !ok {
		return
	}
	c.JSON(nethttp.StatusOK, room.Messages())
}

func (h *handlers) sendMessage(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, ok := h.openRoom(c)
	if !ok {
		return
	}
	m, err := room.SendText(c.Request.Context(), req.Text)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusCreated, m)
}

// sendMedia takes a multipart "file" and an optional "caption".
func (h *handlers) sendMedia(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if h.svc.Orch.Pipeline != nil {
		if err := h.svc.Orch.Pipeline.Check(fh.Size); err != nil {
			fail(c, h.svc.Orch.Alerts.Raise(err))
			return
		}
	}
	room, ok := h.openRoom(c)
	if !ok {
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, alert.New(alert.Upload, "http.media", err))
		return
	}
	defer f.Close()
	m, err := room.SendMedia(c.Request.Context(), fh.Filename, f, fh.Size, c.PostForm("caption"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusCreated, m)
}

func (h *handlers) presence(c *gin.Context) {
	room, ok := h.svc.Orch.ChatFor(domain.GroupID(c.Param("id")))
	if !ok {
		c.JSON(nethttp.StatusNotFound, gin.H{"error": "chat is not open"})
		return
	}
	c.JSON(nethttp.StatusOK, room.Participants())
}

func (h *handlers) joinCall(c *gin.Context) {
	r, err := h.svc.Orch.JoinCall(c.Request.Context(), domain.GroupID(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"topic": r.Topic(), "peers": r.Peers()})
}

func (h *handlers) callState(c *gin.Context) {
	r, ok := h.svc.Orch.Call()
	if !ok || r.Topic() != domain.CallTopic(domain.GroupID(c.Param("id"))) {
		c.JSON(nethttp.StatusNotFound, gin.H{"error": "not in this call"})
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"topic": r.Topic(), "peers": r.Peers(), "streams": r.Streams.Stats()})
}

type muteRequest struct {
	Peer  string `json:"peer" binding:"required"`
	Muted bool   `json:"muted"`
}

func (h *handlers) mutePeer(c *gin.Context) {
	r, ok := h.svc.Orch.Call()
	if !ok || r.Topic() != domain.CallTopic(domain.GroupID(c.Param("id"))) {
		c.JSON(nethttp.StatusNotFound, gin.H{"error": "not in this call"})
		return
	}
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r.Mute(domain.UserID(req.Peer), req.Muted)
	c.JSON(nethttp.StatusOK, gin.H{"peer": req.Peer, "muted": r.Muted(domain.UserID(req.Peer))})
}

func (h *handlers) hangup(c *gin.Context) {
	if !h.svc.Orch.Hangup(c.Request.Context()) {
		c.Status(nethttp.StatusNotFound)
		return
	}
	c.Status(nethttp.StatusNoContent)
}

func (h *handlers) openCanvas(c *gin.Context) {
	cursorOnly := c.Query("cursorOnly") == "true"
	s, err := h.svc.Orch.OpenCanvas(c.Request.Context(), cursorOnly)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"topic": s.Topic(), "paths": s.Paths(), "peers": s.Peers.Snapshot()})
}

func (h *handlers) canvasState(c *gin.Context) {
	s, ok := h.svc.Orch.Canvas(c.Query("cursorOnly") == "true")
	if !ok {
		c.JSON(nethttp.StatusNotFound, gin.H{"error": "canvas is not open"})
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"topic": s.Topic(), "paths": s.Paths(), "peers": s.Peers.Snapshot()})
}

func (h *handlers) closeCanvas(c *gin.Context) {
	if !h.svc.Orch.CloseCanvas(c.Request.Context(), c.Query("cursorOnly") == "true") {
		c.Status(nethttp.StatusNotFound)
		return
	}
	c.Status(nethttp.StatusNoContent)
}

// locationStats accepts RFC 3339 from/to, a limit and points=true to include the rows.
func (h *handlers) locationStats(c *gin.Context) {
	var w location.Window
	var err error
	if v := c.Query("from"); v != "" {
		if w.From, err = time.Parse(time.RFC3339, v); err != nil {
			c.JSON(nethttp.StatusBadRequest, gin.H{"error": "bad from"})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if w.To, err = time.Parse(time.RFC3339, v); err != nil {
			c.JSON(nethttp.StatusBadRequest, gin.H{"error": "bad to"})
			return
		}
	}
	if v := c.Query("limit"); v != "" {
		if w.Limit, err = strconv.Atoi(v); err != nil || w.Limit < 0 {
			c.JSON(nethttp.StatusBadRequest, gin.H{"error": "bad limit"})
			return
		}
	}
	user := currentUser(c).ID
	if v := c.Query("user"); v != "" {
		user = domain.UserID(v)
	}
	rep, err := h.svc.Location.Stats(c.Request.Context(), user, w)
	if err != nil {
		fail(c, err)
		return
	}
	if c.Query("points") != "true" {
		rep.Points = nil
	}
	c.JSON(nethttp.StatusOK, rep)
}

func (h *handlers) recordLocation(c *gin.Context) {
	var p domain.LocationPoint
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p.UserID = currentUser(c).ID
	if err := h.svc.Location.Record(c.Request.Context(), p); err != nil {
		fail(c, err)
		return
	}
	c.Status(nethttp.StatusCreated)
}

func (h *handlers) getProfile(c *gin.Context) {
	p, err := h.svc.Profile.Get(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, p)
}

func (h *handlers) updateProfile(c *gin.Context) {
	var u profile.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.svc.Profile.Update(c.Request.Context(), currentUser(c).ID, u)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, p)
}

func (h *handlers) uploadAvatar(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, alert.New(alert.Upload, "http.avatar", err))
		return
	}
	defer f.Close()
	p, err := h.svc.Profile.UploadAvatar(c.Request.Context(), currentUser(c).ID, fh.Filename, f, fh.Size)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, p)
}

func (h *handlers) registerPush(c *gin.Context) {
	var req struct {
		Token    string              `json:"token" binding:"required"`
		Provider domain.PushProvider `json:"provider" binding:"required,oneof=expo native"`
		Platform string              `json:"platform"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := h.svc.Push.Register(c.Request.Context(), currentUser(c).ID, req.Token, req.Provider, req.Platform)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, tok)
}
