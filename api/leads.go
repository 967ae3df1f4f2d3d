package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/osr-alliance/backend-lead-intake/storage"
	"github.com/osr-alliance/backend-lead-intake/store"
)

const maxBodyBytes = 1 << 20

type leads struct {
	store store.Store
}

type leadsInterface interface {
	Create(w http.ResponseWriter, r *http.Request)
	List(w http.ResponseWriter, r *http.Request)
	Get(w http.ResponseWriter, r *http.Request)
}

func newLeads(s store.Store) leadsInterface {
	return &leads{
		store: s,
	}
}

// decodeBody reads exactly one JSON value from the body; anything after it is an error
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("body must contain a single JSON object")
	}
	return nil
}

type createResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

func (l *leads) Create(w http.ResponseWriter, r *http.Request) {
	log := loggerFrom(r.Context())

	in := store.NewLead{}
	err := decodeBody(w, r, &in)
	if err != nil {
		log.WithError(err).Info("rejected lead: body is not a JSON object")
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	lead, err := l.store.CreateLead(r.Context(), in)
	if err != nil {
		var ve *store.ValidationError
		if errors.As(err, &ve) {
			log.WithField("missing", ve.Missing).Info("rejected lead")
			writeError(w, http.StatusBadRequest, ve.Error())
			return
		}

		log.WithError(err).Error("create lead failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.WithField("lead_id", lead.ID).Info("lead created")
	writeJSON(w, http.StatusCreated, createResponse{
		Message: "Lead created successfully",
		ID:      lead.ID,
	})
}

func (l *leads) List(w http.ResponseWriter, r *http.Request) {
	all, err := l.store.ListLeads(r.Context())
	if err != nil {
		loggerFrom(r.Context()).WithError(err).Error("list leads failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, all)
}

func (l *leads) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		// the route only matches digits; this is an overflow
		writeError(w, http.StatusNotFound, "Lead not found")
		return
	}

	lead, err := l.store.GetLeadByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Lead not found")
			return
		}

		loggerFrom(r.Context()).WithError(err).Error("get lead failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, lead)
}
