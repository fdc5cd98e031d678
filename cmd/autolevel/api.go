package main

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"

	"github.com/fluidcnc/autolevel/coord"
	"github.com/fluidcnc/autolevel/grid"
	"github.com/fluidcnc/autolevel/heightmap"
	"github.com/fluidcnc/autolevel/level"
	"github.com/fluidcnc/autolevel/mapstore"
	"github.com/fluidcnc/autolevel/probe"
	"github.com/fluidcnc/autolevel/scan"
)

// Machine is the controller surface the API needs beyond the scan
// session: the live status stream and the soft-reset escape hatch.
type Machine interface {
	State() <-chan probe.Status
	Reset() error
}

type api struct {
	http.Handler
	sess     *scan.Session
	store    *mapstore.Store
	m        Machine
	defaults probe.Options
	sse      *sse.Server
}

func newAPI(sess *scan.Session, store *mapstore.Store, m Machine, defaults probe.Options) *api {
	r := mux.NewRouter()

	a := &api{
		Handler:  r,
		sess:     sess,
		store:    store,
		m:        m,
		defaults: defaults,
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(io.Discard, "", 0),
		}),
	}

	r.HandleFunc("/api/scan", a.startScan).Methods("POST")
	r.HandleFunc("/api/scan", a.cancelScan).Methods("DELETE")
	r.HandleFunc("/api/scan", a.scanStatus).Methods("GET")
	r.HandleFunc("/api/scans", a.listScans).Methods("GET")
	r.HandleFunc("/api/scans/{id}", a.deleteScan).Methods("DELETE")
	r.HandleFunc("/api/map", a.getMap).Methods("GET")
	r.HandleFunc("/api/map.png", a.getMapPNG).Methods("GET")
	r.HandleFunc("/api/level", a.levelProgram).Methods("POST")
	r.HandleFunc("/api/reset", a.reset).Methods("POST")

	r.PathPrefix("/events/").Handler(a.sse)
	go a.forwardEvents()
	go a.forwardState()

	return a
}

// forwardState streams machine status reports to SSE subscribers.
func (a *api) forwardState() {
	for st := range a.m.State() {
		data, err := json.Marshal(st)
		if err != nil {
			log.Printf("ERROR: marshal json: %+v", err)
			continue
		}
		a.sse.SendMessage("/events/state", sse.SimpleMessage(string(data)))
	}
}

func (a *api) reset(w http.ResponseWriter, req *http.Request) {
	if err := a.m.Reset(); err != nil {
		log.Printf("ERROR: reset: %+v", err)
		http.Error(w, err.Error(), 500)
	}
}

// forwardEvents streams scan progress to SSE subscribers and archives
// the document when a scan completes.
func (a *api) forwardEvents() {
	for ev := range a.sess.Events() {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Printf("ERROR: marshal json: %+v", err)
			continue
		}
		a.sse.SendMessage("/events/scan", sse.SimpleMessage(string(data)))

		if ev.State != scan.Completed.String() {
			continue
		}
		doc, err := a.sess.Document()
		if err != nil {
			log.Printf("ERROR: export scan %s: %+v", ev.SessionID, err)
			continue
		}
		if err = a.store.Save(doc); err != nil {
			log.Printf("ERROR: archive scan %s: %+v", ev.SessionID, err)
		}
	}
}

type scanRequest struct {
	Bounds coord.Bounds   `json:"bounds"`
	Grid   grid.Config    `json:"grid"`
	Probe  *probe.Options `json:"probe,omitempty"`
}

func (a *api) startScan(w http.ResponseWriter, req *http.Request) {
	var sr scanRequest
	if err := json.NewDecoder(req.Body).Decode(&sr); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg := scan.Config{Bounds: sr.Bounds, Grid: sr.Grid, Probe: a.defaults}
	if sr.Probe != nil {
		cfg.Probe = *sr.Probe
	}

	err := a.sess.Start(cfg)
	switch {
	case errors.Is(err, scan.ErrAlreadyScanning):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, probe.ErrNotConnected):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	a.writeSnapshot(w)
}

func (a *api) cancelScan(w http.ResponseWriter, req *http.Request) {
	a.sess.Cancel()
	a.writeSnapshot(w)
}

func (a *api) scanStatus(w http.ResponseWriter, req *http.Request) {
	a.writeSnapshot(w)
}

type snapshotResponse struct {
	SessionID string        `json:"sessionId"`
	State     string        `json:"state"`
	Index     int           `json:"index"`
	Total     int           `json:"total"`
	Percent   float64       `json:"percent"`
	Points    []coord.Point `json:"points"`
	Error     string        `json:"error,omitempty"`
}

func (a *api) writeSnapshot(w http.ResponseWriter) {
	snap := a.sess.Snapshot()
	resp := snapshotResponse{
		SessionID: snap.ID,
		State:     snap.State.String(),
		Index:     snap.Index,
		Total:     snap.Total,
		Percent:   snap.Percent,
		Points:    snap.Points,
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("ERROR: encode: %+v", err)
	}
}

func (a *api) listScans(w http.ResponseWriter, req *http.Request) {
	infos, err := a.store.List()
	if err != nil {
		log.Printf("ERROR: list scans: %+v", err)
		http.Error(w, err.Error(), 500)
		return
	}
	if err = json.NewEncoder(w).Encode(infos); err != nil {
		log.Printf("ERROR: encode: %+v", err)
	}
}

func (a *api) deleteScan(w http.ResponseWriter, req *http.Request) {
	err := a.store.Delete(mux.Vars(req)["id"])
	if err != nil {
		log.Printf("ERROR: delete scan: %+v", err)
		http.Error(w, err.Error(), 500)
	}
}

// document resolves a height map source: the live session's map by
// default, or an archived scan via the session query parameter
// ("latest" or a session ID).
func (a *api) document(req *http.Request) (*heightmap.Document, error) {
	switch id := req.FormValue("session"); id {
	case "":
		doc, err := a.sess.Document()
		if errors.Is(err, heightmap.ErrNoMap) {
			return a.store.LoadLatest()
		}
		return doc, err
	case "latest":
		return a.store.LoadLatest()
	default:
		return a.store.Load(id)
	}
}

func (a *api) getMap(w http.ResponseWriter, req *http.Request) {
	doc, err := a.document(req)
	if err != nil {
		a.mapError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err = doc.Export(w); err != nil {
		log.Printf("ERROR: export map: %+v", err)
	}
}

func (a *api) getMapPNG(w http.ResponseWriter, req *http.Request) {
	doc, err := a.document(req)
	if err != nil {
		a.mapError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err = doc.HeightMap.WritePNG(w); err != nil {
		log.Printf("ERROR: render map: %+v", err)
	}
}

func (a *api) mapError(w http.ResponseWriter, err error) {
	if errors.Is(err, heightmap.ErrNoMap) || errors.Is(err, mapstore.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	log.Printf("ERROR: load map: %+v", err)
	http.Error(w, err.Error(), 500)
}

// levelProgram rewrites the posted program against the resolved map.
// Query parameters: session, scheme (nearest/bilinear/bicubic,
// mesh for raw-point triangulation), maxSegment.
func (a *api) levelProgram(w http.ResponseWriter, req *http.Request) {
	doc, err := a.document(req)
	if err != nil {
		a.mapError(w, err)
		return
	}

	var opt level.Options
	opt.Scheme = heightmap.SchemeBilinear
	if s := req.FormValue("scheme"); s != "" && s != "mesh" {
		opt.Scheme = heightmap.Scheme(s)
	}
	if s := req.FormValue("maxSegment"); s != "" {
		opt.MaxSegment, err = strconv.ParseFloat(s, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	var lv *level.Leveler
	if req.FormValue("scheme") == "mesh" {
		mesh, err := heightmap.NewMesh(doc.RawPoints)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		lv = level.NewOffsetter(mesh, opt)
	} else {
		lv, err = level.New(doc.HeightMap, opt)
		if err != nil {
			a.mapError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	if err = lv.Apply(req.Body, w); err != nil {
		log.Printf("ERROR: level program: %+v", err)
		http.Error(w, err.Error(), 500)
	}
}
