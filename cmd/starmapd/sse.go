package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/astral-systems/starmap/models"

	"github.com/labstack/echo/v4"
)

// keepAliveInterval is how long a stream can sit idle before a comment line
// goes out to keep intermediaries from closing the connection.
const keepAliveInterval = 15 * time.Second

// GET /stars/stream
func (srv *Server) HandleStarStream(c echo.Context) error {
	return srv.streamEvents(c, models.EntityTypeStar)
}

// GET /users/stream
func (srv *Server) HandleUserStream(c echo.Context) error {
	return srv.streamEvents(c, models.EntityTypeUser)
}

// streamEvents serves one SSE connection: events as "data:" lines, idle
// gaps bridged with keep-alive comments. The channel closing means either
// shutdown or this consumer fell too far behind; both end the response.
func (srv *Server) streamEvents(c echo.Context, typ models.EntityType) error {
	ctx := c.Request().Context()

	ch, cleanup, err := srv.mgr.OpenEventStream(ctx, typ)
	if err != nil {
		return respondError(c, err)
	}
	defer cleanup()

	sseActiveStreams.WithLabelValues(string(typ)).Inc()
	defer sseActiveStreams.WithLabelValues(string(typ)).Dec()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(evt)
			if err != nil {
				srv.logger.Warn("failed to serialize event", "err", err)
				continue
			}
			if _, err := fmt.Fprintf(resp, "data: %s\n\n", data); err != nil {
				return nil
			}
			resp.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(resp, ": keep-alive\n\n"); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}
