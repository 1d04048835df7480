package api

import (
	"encoding/json"
	"net/http"

	"github.com/lowaak/smart-trainer/erg-bridge/internal/bt"
)

type simResponse struct {
	State  bt.SimState       `json:"state"`
	Writes []bt.WrittenValue `json:"writes"`
}

// simRequest changes the simulated erg. Absent fields are left alone.
type simRequest struct {
	Watts      *uint16  `json:"watts"`
	StrokeRate *float64 `json:"strokeRate"`
	Online     *bool    `json:"online"`
	Drop       bool     `json:"drop"`
}

func (s *Server) handleSimState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, simResponse{State: s.sim.State(), Writes: s.sim.WrittenValues()})
}

func (s *Server) handleSimSet(w http.ResponseWriter, r *http.Request) {
	var req simRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.StrokeRate != nil && *req.StrokeRate < 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "strokeRate cannot be negative"})
		return
	}

	if req.Watts != nil || req.StrokeRate != nil {
		state := s.sim.State()
		watts, rate := state.Watts, state.StrokeRate
		if req.Watts != nil {
			watts = *req.Watts
		}
		if req.StrokeRate != nil {
			rate = *req.StrokeRate
		}
		s.sim.Set(watts, rate)
	}
	if req.Online != nil {
		s.sim.SetOnline(*req.Online)
	}
	if req.Drop {
		s.sim.DropLink()
	}
	s.writeJSON(w, http.StatusOK, simResponse{State: s.sim.State(), Writes: s.sim.WrittenValues()})
}
