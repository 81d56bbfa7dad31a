package querygrid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ConsoleConfig configures the web query console.
type ConsoleConfig struct {
	Bind            string        `yaml:"bind"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxQueryLen     int           `yaml:"max_query_len"`
	DefaultPageSize int           `yaml:"default_page_size"`
	EnableCORS      bool          `yaml:"enable_cors"`

	// AllowedOrigins restricts CORS to these origins when EnableCORS is
	// true. An empty list defaults to same-origin only (no wildcard).
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultConsoleConfig returns sensible defaults.
func DefaultConsoleConfig() ConsoleConfig {
	return ConsoleConfig{
		Bind:            ":9191",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		MaxQueryLen:     8192,
		DefaultPageSize: 200,
		EnableCORS:      false,
	}
}

// Console serves the HTTP API behind the browser-based query editor: ad-hoc
// queries with paginated normalized results, heatmap derivation, the table
// browser, and query history.
type Console struct {
	conn    *Conn
	config  ConsoleConfig
	mux     *http.ServeMux
	logger  *slog.Logger
	catalog *Catalog
	cache   *ResultCache
	stream  *StreamHub
}

// NewConsole creates a console over one database connection.
func NewConsole(conn *Conn, config ConsoleConfig) *Console {
	if config.DefaultPageSize <= 0 {
		config.DefaultPageSize = 200
	}
	if config.MaxQueryLen <= 0 {
		config.MaxQueryLen = 8192
	}
	c := &Console{
		conn:   conn,
		config: config,
		mux:    http.NewServeMux(),
		logger: slog.Default().With("component", "console"),
	}

	c.mux.HandleFunc("/api/query", c.handleQuery)
	c.mux.HandleFunc("/api/heatmap", c.handleHeatmap)
	c.mux.HandleFunc("/api/tables", c.handleTables)
	c.mux.HandleFunc("/api/tables/refresh", c.handleTablesRefresh)
	c.mux.HandleFunc("/api/history", c.handleHistory)
	c.mux.HandleFunc("/api/health", c.handleHealth)

	return c
}

// AttachCatalog wires a catalog store into the table browser and history
// endpoints. Without one, /api/tables queries the database directly and
// /api/history is empty.
func (c *Console) AttachCatalog(catalog *Catalog) { c.catalog = catalog }

// AttachCache wires a result cache into query execution.
func (c *Console) AttachCache(cache *ResultCache) { c.cache = cache }

// AttachStream exposes a streaming hub at /api/stream.
func (c *Console) AttachStream(hub *StreamHub) {
	c.stream = hub
	c.mux.HandleFunc("/api/stream", hub.HandleWebSocket)
}

// Handler returns the HTTP handler for embedding in existing servers.
func (c *Console) Handler() http.Handler {
	return c.corsMiddleware(c.mux)
}

// ListenAndServe starts the console HTTP server.
func (c *Console) ListenAndServe() error {
	srv := &http.Server{
		Addr:         c.config.Bind,
		Handler:      c.Handler(),
		ReadTimeout:  c.config.ReadTimeout,
		WriteTimeout: c.config.WriteTimeout,
	}
	return srv.ListenAndServe()
}

type consoleQueryRequest struct {
	Query  string `json:"query"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

type consoleQueryResponse struct {
	Columns  []string  `json:"columns"`
	Rows     [][]Cell  `json:"rows"`
	Types    []TypeTag `json:"types"`
	RowCount int       `json:"rowCount"`
	Offset   int       `json:"offset"`
	Limit    int       `json:"limit"`
	Error    string    `json:"error,omitempty"`
}

func (c *Console) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := c.decodeQueryRequest(w, r)
	if !ok {
		return
	}

	table, err := c.execute(r.Context(), req.Query)
	if err != nil {
		// Upstream rejections are reported in-band: the grid shows the
		// database's message instead of a transport failure page.
		writeJSONStatus(w, http.StatusOK, consoleQueryResponse{Error: err.Error()})
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = c.config.DefaultPageSize
	}
	page := table.Slice(req.Offset, limit)
	writeJSONStatus(w, http.StatusOK, consoleQueryResponse{
		Columns:  page.Columns,
		Rows:     page.Rows,
		Types:    page.Types,
		RowCount: table.RowCount(),
		Offset:   req.Offset,
		Limit:    limit,
	})
}

type consoleHeatmapRequest struct {
	Query    string   `json:"query"`
	XColumn  string   `json:"xColumn"`
	YColumns []string `json:"yColumns"`
}

type consoleHeatmapResponse struct {
	Matrix *IntensityMatrix `json:"matrix,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func (c *Console) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONStatus(w, http.StatusMethodNotAllowed, consoleHeatmapResponse{Error: "POST required"})
		return
	}
	var req consoleHeatmapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, consoleHeatmapResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Query == "" {
		writeJSONStatus(w, http.StatusBadRequest, consoleHeatmapResponse{Error: "query is required"})
		return
	}

	table, err := c.execute(r.Context(), req.Query)
	if err != nil {
		writeJSONStatus(w, http.StatusOK, consoleHeatmapResponse{Error: err.Error()})
		return
	}

	decision := Classify(table, req.XColumn, req.YColumns)
	matrix := BuildMatrix(table, req.XColumn, req.YColumns, decision)
	writeJSONStatus(w, http.StatusOK, consoleHeatmapResponse{Matrix: &matrix})
}

func (c *Console) handleTables(w http.ResponseWriter, r *http.Request) {
	if c.catalog != nil {
		infos, err := c.catalog.Tables(r.Context())
		if err != nil {
			writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if infos == nil {
			infos = []TableInfo{}
		}
		writeJSONStatus(w, http.StatusOK, infos)
		return
	}

	names, err := c.conn.Tables(r.Context())
	if err != nil {
		writeJSONStatus(w, http.StatusOK, map[string]string{"error": err.Error()})
		return
	}
	infos := make([]TableInfo, 0, len(names))
	for _, n := range names {
		infos = append(infos, TableInfo{Name: n})
	}
	writeJSONStatus(w, http.StatusOK, infos)
}

func (c *Console) handleTablesRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONStatus(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return
	}
	if c.catalog == nil {
		writeJSONStatus(w, http.StatusNotFound, map[string]string{"error": "no catalog attached"})
		return
	}
	infos, err := c.catalog.Refresh(r.Context(), c.conn)
	if err != nil {
		writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSONStatus(w, http.StatusOK, infos)
}

func (c *Console) handleHistory(w http.ResponseWriter, r *http.Request) {
	if c.catalog == nil {
		writeJSONStatus(w, http.StatusOK, []HistoryEntry{})
		return
	}
	entries, err := c.catalog.History(r.Context(), 100)
	if err != nil {
		writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	writeJSONStatus(w, http.StatusOK, entries)
}

func (c *Console) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSONStatus(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeQueryRequest validates the common query request envelope.
func (c *Console) decodeQueryRequest(w http.ResponseWriter, r *http.Request) (consoleQueryRequest, bool) {
	var req consoleQueryRequest
	if r.Method != http.MethodPost {
		writeJSONStatus(w, http.StatusMethodNotAllowed, consoleQueryResponse{Error: "POST required"})
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, consoleQueryResponse{Error: "invalid JSON: " + err.Error()})
		return req, false
	}
	if req.Query == "" {
		writeJSONStatus(w, http.StatusBadRequest, consoleQueryResponse{Error: "query is required"})
		return req, false
	}
	if len(req.Query) > c.config.MaxQueryLen {
		writeJSONStatus(w, http.StatusBadRequest, consoleQueryResponse{
			Error: fmt.Sprintf("query exceeds max length (%d)", c.config.MaxQueryLen),
		})
		return req, false
	}
	return req, true
}

// execute runs a query through the cache, records history, and returns the
// normalized table.
func (c *Console) execute(ctx context.Context, query string) (NormalizedTable, error) {
	if c.cache != nil {
		if table, ok := c.cache.Get(query); ok {
			return table, nil
		}
	}

	start := time.Now()
	table, err := c.conn.QueryTable(ctx, query)
	elapsed := time.Since(start)

	if c.catalog != nil {
		entry := HistoryEntry{
			Query:    query,
			RowCount: table.RowCount(),
			Duration: elapsed.Milliseconds(),
		}
		if err != nil {
			entry.Error = err.Error()
		}
		if rerr := c.catalog.RecordExecution(ctx, entry); rerr != nil {
			c.logger.Warn("history record failed", "error", rerr)
		}
	}
	if err != nil {
		return EmptyTable(), err
	}

	if c.cache != nil {
		c.cache.Put(query, table)
	}
	return table, nil
}

func (c *Console) corsMiddleware(next http.Handler) http.Handler {
	if !c.config.EnableCORS {
		return next
	}
	allowed := c.config.AllowedOrigins
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 {
			// No origins configured: allow same-origin only (no header set).
		} else {
			for _, o := range allowed {
				if o == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSONStatus writes a JSON response with the given status code.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
