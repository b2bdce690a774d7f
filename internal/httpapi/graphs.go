package httpapi

import (
	"io"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
)

type graphSummary struct {
	Name      string   `json:"name"`
	Start     string   `json:"start"`
	Terminals []string `json:"terminals"`
	Nodes     []string `json:"nodes"`
}

func (s *Server) handleListGraphs(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(s.graphs))
	for name := range s.graphs {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]graphSummary, 0, len(names))
	for _, name := range names {
		g := s.graphs[name]
		out = append(out, graphSummary{Name: name, Start: g.Start(), Terminals: g.Terminals(), Nodes: g.Nodes()})
	}
	respondJSON(w, http.StatusOK, out)
}

// handleGraph renders a graph as Graphviz DOT.
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	g, ok := s.graphs[chi.URLParam(r, "name")]
	if !ok {
		respondError(w, http.StatusNotFound, "graph_not_found", "unknown graph")
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, g.DOT())
}
