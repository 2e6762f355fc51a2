package events

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/rs/zerolog/log"
)

// command is an inbound frame; only the fields of its type are set.
type command struct {
	Type   string  `json:"type"`
	Text   string  `json:"text,omitempty"`
	Group  string  `json:"group,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Color  string  `json:"color,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Cursor bool    `json:"cursorOnly,omitempty"`
}

func (ctl *Controller) handleCommand(ctx context.Context, c *Conn, data []byte) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		log.Debug().Err(err).Str("module", "events").Msg("bad json")
		ctl.replyError(c, "bad_payload")
		return
	}

	switch cmd.Type {
	case "ping":
		ctl.sendJSON(c, map[string]string{"type": "pong"})
	case "whoami":
		ctl.handleWhoAmI(c)
	case "chat":
		ctl.handleChat(ctx, c, cmd)
	case "cursor":
		ctl.handleCursor(ctx, c, cmd)
	case "path.begin":
		ctl.handlePath(ctx, c, cmd, 0)
	case "path.point":
		ctl.handlePath(ctx, c, cmd, 1)
	case "path.end":
		ctl.handlePath(ctx, c, cmd, 2)
	default:
		log.Warn().Str("module", "events").Str("type", cmd.Type).Msg("unknown command")
		ctl.replyError(c, "unknown_command")
	}
}

func (ctl *Controller) handleWhoAmI(c *Conn) {
	u, err := ctl.Orch.Identity.User()
	if err != nil {
		ctl.replyError(c, "signed_out")
		return
	}
	ctl.sendJSON(c, struct {
		Type   string      `json:"type"`
		User   domain.User `json:"user"`
		Active any         `json:"active"`
	}{"whoami", u, ctl.Orch.Active()})
}

func (ctl *Controller) handleChat(ctx context.Context, c *Conn, cmd command) {
	room, ok := ctl.Orch.ChatFor(domain.GroupID(cmd.Group))
	if !ok {
		ctl.replyError(c, "chat_not_open")
		return
	}
	if _, err := room.SendText(ctx, cmd.Text); err != nil {
		ctl.replyError(c, string(alert.KindOf(err)))
	}
}

func (ctl *Controller) handleCursor(ctx context.Context, c *Conn, cmd command) {
	s, ok := ctl.Orch.Canvas(cmd.Cursor)
	if !ok {
		ctl.replyError(c, "canvas_not_open")
		return
	}
	if _, err := s.MoveCursor(ctx, domain.Point{X: cmd.X, Y: cmd.Y}); err != nil {
		log.Debug().Err(err).Str("module", "events").Msg("cursor")
	}
}

func (ctl *Controller) handlePath(ctx context.Context, c *Conn, cmd command, step int) {
	s, ok := ctl.Orch.Canvas(false)
	if !ok {
		ctl.replyError(c, "canvas_not_open")
		return
	}
	pt := domain.Point{X: cmd.X, Y: cmd.Y}
	var err error
	switch step {
	case 0:
		_, err = s.BeginPath(cmd.Color, cmd.Width, pt)
	case 1:
		err = s.AddPoint(pt)
	case 2:
		_, err = s.CompletePath(ctx)
	}
	if err != nil {
		ctl.replyError(c, err.Error())
	}
}

func (ctl *Controller) replyError(c *Conn, msg string) {
	ctl.sendJSON(c, map[string]string{"type": "error", "error": msg})
}
