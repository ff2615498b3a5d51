package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pajohmail/aden-hive/pkg/graph"
)

// graphNodesHandler handles GET /api/sessions/:sid/graphs/:gid/nodes
// (spec.md §6): the loaded worker's graph topology plus per-node progress
// (visit counts, which node each tracked execution is currently at) merged
// across every execution tracked for this session.
func (s *Server) graphNodesHandler(c *echo.Context) error {
	sess, err := s.manager.Get(c.Param("sid"))
	if err != nil {
		return mapSessionError(err)
	}

	g := sess.Graph()
	if g == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no worker loaded for this session")
	}
	if gid := c.Param("gid"); gid != "" && gid != g.ID {
		return echo.NewHTTPError(http.StatusNotFound, "no such graph for this session")
	}

	visits := make(map[string]int)
	active := make(map[string]bool)
	for _, ex := range sess.Executions() {
		for node, n := range ex.Visits() {
			visits[node] += n
		}
		active[ex.CurrentNode()] = true
	}

	back := graph.BackEdges(g, g.EntryNode)

	resp := GraphNodesResponse{GraphID: g.ID, EntryNode: g.EntryNode}
	for _, n := range g.Nodes {
		resp.Nodes = append(resp.Nodes, NodeProgress{
			ID:       n.ID,
			Type:     string(n.Type),
			Visits:   visits[n.ID],
			IsActive: active[n.ID],
		})
		for _, e := range g.OutgoingEdges(n.ID) {
			resp.Edges = append(resp.Edges, EdgeView{
				Source:     e.Source,
				Target:     e.Target,
				Condition:  string(e.Condition),
				IsBackEdge: back[e],
			})
		}
	}

	return c.JSON(http.StatusOK, resp)
}
