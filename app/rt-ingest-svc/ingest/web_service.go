// Package ingest exposes the HTTP ingestion endpoints for push-style
// contributors and out-of-band injection into broker-backed ones.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	logger "log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"

	"github.com/opentransit/rtbridge/business/data/rt"
	"github.com/opentransit/rtbridge/business/handler"
	"github.com/opentransit/rtbridge/business/parser"
	"github.com/opentransit/rtbridge/business/publish"
	"github.com/opentransit/rtbridge/business/timetable"
)

//defaultHttpHandler simple default http handler for default route
type defaultHttpHandler struct {
}

//ServeHTTP implements defaultHttpHandler http.Handler interface
func (h *defaultHttpHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Application-Status", "OK")
}

// jsonResponse is the body of every ingestion response
type jsonResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// ingestHandler accepts vendor payloads over POST /{connector}/{contributor}
type ingestHandler struct {
	log       *logger.Logger
	db        *sqlx.DB
	timetable timetable.Service
	handler   *handler.Handler
}

func makeIngestHandler(log *logger.Logger, db *sqlx.DB, tt timetable.Service, h *handler.Handler) *ingestHandler {
	return &ingestHandler{
		log:       log,
		db:        db,
		timetable: tt,
		handler:   h,
	}
}

//ServeHTTP implements ingestHandler's http.Handler interface
func (h *ingestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	connector := rt.ConnectorType(vars["connector"])
	contributorID := vars["contributor"]

	contributor, err := rt.ContributorByID(h.db, contributorID)
	if err != nil {
		h.log.Printf("error loading contributor %s: %v", contributorID, err)
		writeJSON(h.log, w, http.StatusInternalServerError, jsonResponse{Message: "internal error", Error: err.Error()})
		return
	}
	if contributor == nil || !contributor.IsActive || contributor.ConnectorType != connector {
		writeJSON(h.log, w, http.StatusNotFound,
			jsonResponse{Message: "unknown contributor", Error: "no active contributor " + contributorID + " for connector " + string(connector)})
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(h.log, w, http.StatusBadRequest, jsonResponse{Message: "invalid request", Error: err.Error()})
		return
	}

	builder, err := parser.New(contributor, h.timetable)
	if err != nil {
		writeJSON(h.log, w, http.StatusInternalServerError, jsonResponse{Message: "internal error", Error: err.Error()})
		return
	}

	err = h.handler.Process(r.Context(), contributor, builder, raw)
	switch {
	case err == nil:
		writeJSON(h.log, w, http.StatusOK, jsonResponse{Message: "OK"})
	case errors.Is(err, parser.ErrInvalidInput):
		writeJSON(h.log, w, http.StatusBadRequest, jsonResponse{Message: "invalid input", Error: err.Error()})
	case errors.Is(err, parser.ErrUnknownTarget):
		writeJSON(h.log, w, http.StatusNotFound, jsonResponse{Message: "unknown target", Error: err.Error()})
	case errors.Is(err, publish.ErrMessageNotPublished):
		writeJSON(h.log, w, http.StatusServiceUnavailable, jsonResponse{Message: "feed not published", Error: err.Error()})
	default:
		writeJSON(h.log, w, http.StatusInternalServerError, jsonResponse{Message: "internal error", Error: err.Error()})
	}
}

// statusHandler reports per-contributor processing probes
type statusHandler struct {
	log *logger.Logger
	db  *sqlx.DB
}

//ServeHTTP implements statusHandler's http.Handler interface
func (h *statusHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	probes, err := rt.LastUpdateProbes(h.db)
	if err != nil {
		h.log.Printf("error loading update probes: %v", err)
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}
	response := struct {
		Probes []rt.UpdateProbe `json:"contributors"`
	}{Probes: probes}
	data, err := json.Marshal(response)
	if err != nil {
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func writeJSON(log *logger.Logger, w http.ResponseWriter, status int, response jsonResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		log.Printf("error marshaling response: %v", err)
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(data); err != nil {
		log.Printf("error writing response: %v", err)
	}
}

//createServer creates configured http.Server for receiving vendor payloads
func createServer(log *logger.Logger,
	db *sqlx.DB,
	tt timetable.Service,
	h *handler.Handler,
	httpPort int) *http.Server {

	r := mux.NewRouter()
	r.Handle("/", &defaultHttpHandler{})
	r.Handle("/status", &statusHandler{log: log, db: db}).Methods(http.MethodGet)
	r.Handle("/{connector}/{contributor}", makeIngestHandler(log, db, tt, h)).Methods(http.MethodPost)
	srv := &http.Server{
		Addr: strings.Join([]string{"0.0.0.0", strconv.Itoa(httpPort)}, ":"),
		// Good practice to set timeouts to avoid Slowloris attacks.
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      r,
	}
	return srv
}

//RunWebService starts up the ingestion web service, and terminates on shutdown signal
func RunWebService(log *logger.Logger,
	db *sqlx.DB,
	tt timetable.Service,
	h *handler.Handler,
	httpPort int,
	shutdownSignal chan bool,
) {
	srv := createServer(log, db, tt, h, httpPort)
	log.Printf("Starting server on port %d", httpPort)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Printf("server ListenAndServe ended. %s", err)
		}
	}()

	<-shutdownSignal
	log.Printf("ending webservice on shutdown signal")
	shutdownCtx, serverCancelFunc := context.WithTimeout(context.Background(), time.Duration(5)*time.Second)
	defer serverCancelFunc()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("error shutting down webservice, error:%s", err)
	}
}
