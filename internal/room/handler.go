package room

import (
	"context"
	"errors"
	"net/http"

	"RoomGroup/internal/discovery"
	"RoomGroup/internal/matchmaker"
	"RoomGroup/internal/stats"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	srv *Server
	// Peers lists the instances advertised in service discovery. Nil when
	// discovery is disabled.
	Peers func(ctx context.Context) ([]discovery.Service, error)
}

func NewHandler(srv *Server) *Handler {
	return &Handler{srv: srv}
}

type InfoResponse struct {
	stats.ServerInfo
	Peers []discovery.Service `json:"peers,omitempty"`
}

type RunRequest struct {
	Pass string `json:"pass"` // "matchmaking", "confirmation" or empty for both
}

type OutcomeResponse struct {
	GroupID string   `json:"groupId,omitempty"`
	Members []string `json:"members,omitempty"`
	Result  string   `json:"result,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func toResponse(outcomes []matchmaker.Outcome) []OutcomeResponse {
	out := make([]OutcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		r := OutcomeResponse{GroupID: o.GroupID, Members: o.Members, Result: o.Result}
		if o.Err != nil {
			r.Error = o.Err.Error()
		}
		out = append(out, r)
	}
	return out
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/info", h.Info)
	r.POST("/match/run", h.Run)
	r.POST("/match/:id/end", h.End)
}

// GET /info
func (h *Handler) Info(c *gin.Context) {
	resp := InfoResponse{ServerInfo: h.srv.ServerInfo()}
	if h.Peers != nil {
		peers, err := h.Peers(c.Request.Context())
		if err != nil {
			h.srv.log.Warn("listing peers failed", "err", err)
		}
		resp.Peers = peers
	}
	c.JSON(http.StatusOK, resp)
}

// POST /match/run  body: {pass}
func (h *Handler) Run(c *gin.Context) {
	var req RunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	resp := gin.H{}
	if req.Pass == "" || req.Pass == "matchmaking" {
		outcomes, err := h.srv.ExecuteMatchmaking(ctx)
		if err != nil {
			h.fail(c, err)
			return
		}
		resp["matchmaking"] = toResponse(outcomes)
	}
	if req.Pass == "" || req.Pass == "confirmation" {
		outcomes, err := h.srv.ExecuteConfirmation(ctx)
		if err != nil {
			h.fail(c, err)
			return
		}
		resp["confirmation"] = toResponse(outcomes)
	}
	if len(resp) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown pass " + req.Pass})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// POST /match/:id/end
func (h *Handler) End(c *gin.Context) {
	id := c.Param("id")
	h.srv.EndMatch(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{"ok": true, "matchId": id})
}

func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, matchmaker.ErrAutoActive) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
