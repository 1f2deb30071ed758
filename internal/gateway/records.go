package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/flemzord/memstore/internal/memory"
	"github.com/go-chi/chi/v5"
)

// privilegedJSON pins a new record to an explicit room.
type privilegedJSON struct {
	Class     string `json:"class"`
	Partition string `json:"partition"`
}

type createResponse struct {
	ID string `json:"id"`
}

// handleCreate serves POST /api/records. The body is a record plus an
// optional "privileged" object.
func (g *Gateway) handleCreate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var raw json.RawMessage
		if err := decodeBody(r, &raw); err != nil {
			writeError(w, err)
			return
		}
		var rec memory.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			writeError(w, asValidation(err))
			return
		}
		var extra struct {
			Privileged *privilegedJSON `json:"privileged"`
		}
		if err := json.Unmarshal(raw, &extra); err != nil {
			writeError(w, asValidation(err))
			return
		}

		var opts []memory.CreateOption
		if p := extra.Privileged; p != nil {
			opts = append(opts, memory.WithPrivilegedPartition(p.Class, p.Partition))
		}
		id, err := g.store.Create(r.Context(), &rec, opts...)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Location", "/api/records/"+id)
		writeJSON(w, http.StatusCreated, createResponse{ID: id})
	}
}

// handleGet serves GET /api/records/{id}.
func (g *Gateway) handleGet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := g.store.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

type updateRequest struct {
	ExpectedVersion int          `json:"expected_version"`
	Patch           memory.Patch `json:"patch"`
}

type updateResponse struct {
	Updated bool `json:"updated"`
	Version int  `json:"version"`
}

// handleUpdate serves PATCH /api/records/{id}. A stale expected_version
// answers 409 with the current version.
func (g *Gateway) handleUpdate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req updateRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		ok, err := g.store.Update(r.Context(), id, req.Patch, req.ExpectedVersion)
		if err != nil {
			writeError(w, err)
			return
		}
		if ok {
			writeJSON(w, http.StatusOK, updateResponse{Updated: true, Version: req.ExpectedVersion + 1})
			return
		}
		resp := updateResponse{}
		if cur, err := g.store.Get(r.Context(), id); err == nil {
			resp.Version = cur.Version
		}
		writeJSON(w, http.StatusConflict, resp)
	}
}

// handleRemove serves DELETE /api/records/{id}.
func (g *Gateway) handleRemove() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.store.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleHistory serves GET /api/records/{id}/history.
func (g *Gateway) handleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := g.store.History(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if entries == nil {
			entries = []memory.HistoryEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

type reembedResponse struct {
	Repaired bool `json:"repaired"`
}

// handleReembed serves POST /api/records/{id}/reembed.
func (g *Gateway) handleReembed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := g.store.Reembed(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reembedResponse{Repaired: ok})
	}
}

type pageResponse struct {
	Items      []*memory.Record `json:"items"`
	HasMore    bool             `json:"has_more"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// handlePaginate serves GET /api/rooms/{room}/records?cursor=&limit=.
func (g *Gateway) handlePaginate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 0
		if s := q.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				writeError(w, &memory.ValidationError{Field: "limit", Reason: "must be a non-negative integer"})
				return
			}
			limit = n
		}
		page, err := g.store.Paginate(r.Context(), chi.URLParam(r, "room"), q.Get("cursor"), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		resp := pageResponse{Items: page.Items, HasMore: page.HasMore, NextCursor: page.NextCursor}
		if resp.Items == nil {
			resp.Items = []*memory.Record{}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type searchRequest struct {
	Text      string    `json:"text"`
	Vector    []float32 `json:"vector"`
	Partition string    `json:"partition"`
	AgentID   string    `json:"agent_id"`
	Threshold float32   `json:"threshold"`
	Limit     int       `json:"limit"`
}

type searchResponse struct {
	Records []*memory.Record `json:"records"`
}

// handleSearch serves POST /api/search. Search never fails: storage
// trouble yields an empty list.
func (g *Gateway) handleSearch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		recs := g.store.Search(r.Context(), memory.Query{
			Text:      req.Text,
			Vector:    req.Vector,
			Partition: req.Partition,
			AgentID:   req.AgentID,
			Threshold: req.Threshold,
			Limit:     req.Limit,
		})
		writeJSON(w, http.StatusOK, searchResponse{Records: recs})
	}
}

func asValidation(err error) error {
	var verr *memory.ValidationError
	if errors.As(err, &verr) {
		return err
	}
	return &memory.ValidationError{Field: "body", Reason: err.Error()}
}
