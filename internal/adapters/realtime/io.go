package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (c *Client) writePump(ctx context.Context, ws *websocket.Conn) {
	c.mu.RLock()
	send := c.send
	c.mu.RUnlock()

	heartbeat := time.NewTicker(c.opts.Heartbeat)
	defer heartbeat.Stop()

	for {
		var data core.Frame
		select {
		case <-ctx.Done():
			log.Info().Str("module", "realtime").Msg("writePump ctx done")
			return
		case <-heartbeat.C:
			b, _ := json.Marshal(Message{Topic: phoenixTopic, Event: EventHeartbeat, Payload: json.RawMessage("{}"), Ref: c.nextRef()})
			data = b
		case f, ok := <-send:
			if !ok {
				log.Debug().Str("module", "realtime").Msg("writePump channel closed")
				return
			}
			data = f
		}
		if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Error().Err(err).Str("module", "realtime").Msg("writePump set deadline")
			c.Close()
			return
		}
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "realtime").Msg("writePump write error")
			c.Close()
			return
		}
	}
}

func (c *Client) readPump(ctx context.Context, ws *websocket.Conn) {
	c.mu.RLock()
	done := c.done
	c.mu.RUnlock()
	defer func() {
		log.Info().Str("module", "realtime").Msg("readPump closing")
		c.Close()
		c.failChannels()
		close(done)
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("module", "realtime").Msg("readPump read error")
			}
			return
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			log.Error().Err(err).Str("module", "realtime").Msg("bad frame")
			continue
		}
		c.route(m)
	}
}

func (c *Client) failChannels() {
	c.mu.RLock()
	chans := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		chans = append(chans, ch)
	}
	c.mu.RUnlock()
	for _, ch := range chans {
		ch.setJoined(false)
	}
}
