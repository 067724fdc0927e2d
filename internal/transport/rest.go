package transport

import (
	"encoding/json"
	"net/http"

	"github.com/odinmarkets/gateway/internal/model"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil && !s.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type exchangeView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

func (s *Server) handleExchanges(w http.ResponseWriter, r *http.Request) {
	venues := s.catalog.ListVenues()
	out := make([]exchangeView, len(venues))
	for i, v := range venues {
		out[i] = exchangeView{ID: v.ID, Name: v.Name, Status: v.Status}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	venue := r.URL.Query().Get("exchange")
	if venue == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing exchange query parameter"})
		return
	}
	quotes := s.catalog.AllowedQuotes(marketTypeOrDefault(r))
	out := make([]string, 0, len(quotes))
	for q := range quotes {
		out = append(out, q)
	}
	writeJSON(w, http.StatusOK, map[string]any{"exchange": venue, "allowed_quotes": out})
}

// handleCandles is an explicit stub: historical candle aggregation is out
// of scope for this gateway (it only serves live streams and the replay
// cache), but the endpoint exists so clients get a clear 501 rather than a
// 404 when they probe for it.
func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "candles are not served by this gateway"})
}

func marketTypeOrDefault(r *http.Request) model.MarketType {
	q := r.URL.Query().Get("market_type")
	if q == "" {
		return model.MarketSpot
	}
	return model.MarketType(q)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
