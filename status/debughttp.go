package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// DebugServer is the optional loopback HTTP introspection surface, separate from the raw-line
// protocol of Server. It exposes the same snapshot as a JSON list of all tunnels, and by udid
// lookup.
type DebugServer struct {
	addr     string
	snapshot SnapshotFunc
	srv      *http.Server
}

// NewDebugServer builds a DebugServer bound to addr.
func NewDebugServer(addr string, snapshot SnapshotFunc) *DebugServer {
	d := &DebugServer{addr: addr, snapshot: snapshot}
	r := mux.NewRouter()
	r.HandleFunc("/tunnels", d.listTunnels).Methods(http.MethodGet)
	r.HandleFunc("/tunnel/{udid}", d.tunnelByUDID).Methods(http.MethodGet)
	d.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return d
}

// ListenAndServe blocks until the server is shut down via Shutdown or fails to bind.
func (d *DebugServer) ListenAndServe() error {
	err := d.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections.
func (d *DebugServer) Shutdown() error {
	return d.srv.Close()
}

func (d *DebugServer) listTunnels(w http.ResponseWriter, r *http.Request) {
	views := d.snapshot()
	if views == nil {
		views = []TunnelView{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

func (d *DebugServer) tunnelByUDID(w http.ResponseWriter, r *http.Request) {
	udid := mux.Vars(r)["udid"]
	for _, v := range d.snapshot() {
		if v.UDID == udid {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(v)
			return
		}
	}
	http.Error(w, "", http.StatusNotFound)
}
