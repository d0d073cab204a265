package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

type serverInfoMsg struct {
	OK    bool `json:"ok"`
	NRoom int  `json:"nroom"`
}

func respondWithJSON(m interface{}, statusCode int, w http.ResponseWriter) {
	payload, _ := json.Marshal(m)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(payload)
}

func getRooms(s *Server, w http.ResponseWriter, r *http.Request) {
	respondWithJSON(&serverInfoMsg{
		OK:    true,
		NRoom: s.RoomCount(),
	}, http.StatusOK, w)
}

// NewRestMux builds the observability surface next to the websocket
// endpoint. Rooms are created over the websocket protocol, not here.
func NewRestMux(server *Server) *mux.Router {
	restMux := mux.NewRouter().StrictSlash(true)
	restMux.HandleFunc("/", http.NotFound)
	restMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(map[string]interface{}{"ok": true}, http.StatusOK, w)
	}).Methods("GET")
	restMux.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
		getRooms(server, w, r)
	}).Methods("GET")
	return restMux
}
