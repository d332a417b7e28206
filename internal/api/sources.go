package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/url-ingest/internal/ingest"
	"github.com/JakeFAU/url-ingest/internal/poller"
	"github.com/JakeFAU/url-ingest/internal/source"
)

type connectRequest struct {
	DSN string `json:"dsn"`
}

// numberOrString accepts 25 as well as "25" from form-driven clients.
type numberOrString string

func (n *numberOrString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = numberOrString(strings.TrimSpace(s))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return errors.New("expected a number or a string")
	}
	*n = numberOrString(num.String())
	return nil
}

type selectionRequest struct {
	Table               string         `json:"table"`
	Column              string         `json:"column"`
	KeyColumn           string         `json:"key_column"`
	OutputTable         string         `json:"output_table"`
	BatchSize           numberOrString `json:"batch_size"`
	PollIntervalSeconds numberOrString `json:"poll_interval_seconds"`
	LastSeenID          int64          `json:"last_seen_id"`
}

// sourceView is the wire shape of a configured source.
type sourceView struct {
	Type                ingest.SourceType `json:"type"`
	Connected           bool              `json:"connected"`
	Configured          bool              `json:"configured"`
	Polling             bool              `json:"polling"`
	Table               string            `json:"table,omitempty"`
	Column              string            `json:"column,omitempty"`
	KeyColumn           string            `json:"key_column,omitempty"`
	OutputTable         string            `json:"output_table,omitempty"`
	BatchSize           int               `json:"batch_size,omitempty"`
	PollIntervalSeconds int64             `json:"poll_interval_seconds,omitempty"`
	LastSeenID          int64             `json:"last_seen_id"`
}

func viewOf(status poller.Status) sourceView {
	cfg := status.Config
	return sourceView{
		Type:                cfg.Type,
		Configured:          true,
		Polling:             status.Polling,
		Table:               cfg.Table,
		Column:              cfg.Column,
		KeyColumn:           cfg.KeyColumn,
		OutputTable:         cfg.OutputTable,
		BatchSize:           cfg.BatchSize,
		PollIntervalSeconds: int64(cfg.PollInterval.Seconds()),
		LastSeenID:          cfg.LastSeenID,
	}
}

func sourceTypeParam(r *http.Request) (ingest.SourceType, error) {
	return ingest.ParseSourceType(chi.URLParam(r, "type"))
}

// listSources handles GET /v1/sources.
func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	views := make(map[ingest.SourceType]sourceView)
	for _, st := range s.pollers.Sources() {
		views[st.Config.Type] = viewOf(st)
	}
	for _, t := range s.sources.Connected() {
		v, ok := views[t]
		if !ok {
			v = sourceView{Type: t}
		}
		v.Connected = true
		views[t] = v
	}
	out := make([]sourceView, 0, len(views))
	for _, v := range views {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

// connectSource handles POST /v1/sources/{type}/connect {"dsn": "..."} and
// answers with the source's table names.
func (s *Server) connectSource(w http.ResponseWriter, r *http.Request) {
	sourceType, err := sourceTypeParam(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.DSN) == "" {
		writeError(w, http.StatusBadRequest, "dsn is required")
		return
	}
	tables, err := s.sources.Connect(r.Context(), sourceType, req.DSN)
	if err != nil {
		s.logger.Warn("source connect failed",
			zap.String("source", string(sourceType)),
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if tables == nil {
		tables = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": sourceType, "tables": tables})
}

// listTables handles GET /v1/sources/{type}/tables.
func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	adapter, ok := s.adapterFor(w, r)
	if !ok {
		return
	}
	tables, err := adapter.ListTables(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if tables == nil {
		tables = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

// listColumns handles GET /v1/sources/{type}/tables/{table}/columns.
func (s *Server) listColumns(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if err := source.ValidateIdent(table); err != nil {
		s.writeErr(w, r, err)
		return
	}
	adapter, ok := s.adapterFor(w, r)
	if !ok {
		return
	}
	columns, err := adapter.ListColumns(r.Context(), table)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if columns == nil {
		columns = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "columns": columns})
}

// selectSource handles PUT /v1/sources/{type}/selection.
func (s *Server) selectSource(w http.ResponseWriter, r *http.Request) {
	sourceType, err := sourceTypeParam(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Table == "" || req.Column == "" {
		writeError(w, http.StatusBadRequest, "table and column are required")
		return
	}
	cfg := ingest.SourceConfig{
		Type:        sourceType,
		Table:       req.Table,
		Column:      req.Column,
		KeyColumn:   req.KeyColumn,
		OutputTable: req.OutputTable,
		LastSeenID:  req.LastSeenID,
	}
	if req.BatchSize != "" {
		cfg.BatchSize = poller.ParseBatchSize(string(req.BatchSize))
	}
	if req.PollIntervalSeconds != "" {
		cfg.PollInterval = poller.ParsePollInterval(string(req.PollIntervalSeconds))
	}
	applied, err := s.pollers.Configure(cfg)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(poller.Status{Config: applied}))
}

// importSource handles POST /v1/sources/{type}/import, a one-shot tick.
func (s *Server) importSource(w http.ResponseWriter, r *http.Request) {
	sourceType, err := sourceTypeParam(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	n, err := s.pollers.Import(r.Context(), sourceType)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"type": sourceType, "dispatched": n})
}

// startPolling handles POST /v1/sources/{type}/poll/start.
func (s *Server) startPolling(w http.ResponseWriter, r *http.Request) {
	sourceType, err := sourceTypeParam(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if err := s.pollers.Start(sourceType); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": sourceType, "polling": true})
}

// stopPolling handles POST /v1/sources/{type}/poll/stop.
func (s *Server) stopPolling(w http.ResponseWriter, r *http.Request) {
	sourceType, err := sourceTypeParam(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if err := s.pollers.Stop(sourceType); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": sourceType, "polling": false})
}

func (s *Server) adapterFor(w http.ResponseWriter, r *http.Request) (ingest.SourceAdapter, bool) {
	sourceType, err := sourceTypeParam(r)
	if err != nil {
		s.writeErr(w, r, err)
		return nil, false
	}
	adapter, err := s.sources.Adapter(sourceType)
	if err != nil {
		s.writeErr(w, r, err)
		return nil, false
	}
	return adapter, true
}
