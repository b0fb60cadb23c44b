package api

import (
	"log/slog"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/sam-thetutor/wahala/internal/errors"
)

// QueryUser names the connecting user on the WebSocket endpoint. Browsers cannot set headers on the upgrade.
const QueryUser = "user"

// serveWS upgrades the request and attaches the connection to the room until either side closes it.
func (a *API) serveWS(c *gin.Context) {
	user := c.Query(QueryUser)
	if user == "" {
		user = c.GetHeader(HeaderUserID)
	}
	if user == "" {
		fail(c, errors.Validation("missing %q query parameter", QueryUser))
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: a.origins,
	})
	if err != nil {
		slog.WarnContext(c.Request.Context(), "api: websocket upgrade failed", "room", c.Param("id"), "error", err)
		return
	}

	a.hub.Serve(c.Request.Context(), conn, c.Param("id"), user, a.rooms)
}
