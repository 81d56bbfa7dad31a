package querygrid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// HTTPDoer is an interface for making HTTP requests.
// It is implemented by *http.Client and can be mocked in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ConnConfig configures a database connection.
type ConnConfig struct {
	// URL is the query endpoint of the database's HTTP gateway.
	URL string `yaml:"url"`

	// Timeout bounds a single query round trip. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxResponseBytes caps the size of a response body.
	// Default: 64MB. 0 means unlimited.
	MaxResponseBytes int64 `yaml:"max_response_bytes"`

	// MaxQueryLen caps accepted query length. Default: 8192.
	MaxQueryLen int `yaml:"max_query_len"`

	// TablesQuery lists the database's tables; the result is expected to
	// be a symbol list. Default: "tables[]".
	TablesQuery string `yaml:"tables_query"`

	// SchemaQueryFormat is a format string producing the per-table schema
	// query. Default: "meta %s".
	SchemaQueryFormat string `yaml:"schema_query_format"`

	// Username and Password are sent as HTTP basic auth when Username is
	// non-empty.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DefaultConnConfig returns sensible defaults for the given endpoint.
func DefaultConnConfig(url string) ConnConfig {
	return ConnConfig{
		URL:               url,
		Timeout:           30 * time.Second,
		MaxResponseBytes:  64 * 1024 * 1024,
		MaxQueryLen:       8192,
		TablesQuery:       "tables[]",
		SchemaQueryFormat: "meta %s",
	}
}

// Conn is an explicit handle to one database connection. It is passed by
// reference into every layer that issues queries; there is no package-level
// connection state, so multiple connections can coexist and tests can inject
// their own HTTPDoer.
type Conn struct {
	config ConnConfig
	client HTTPDoer
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewConn creates a connection using a default HTTP client.
func NewConn(config ConnConfig) *Conn {
	return NewConnWithClient(config, &http.Client{Timeout: config.Timeout})
}

// NewConnWithClient creates a connection with a caller-supplied HTTP client.
func NewConnWithClient(config ConnConfig, client HTTPDoer) *Conn {
	if config.MaxQueryLen <= 0 {
		config.MaxQueryLen = 8192
	}
	if config.TablesQuery == "" {
		config.TablesQuery = "tables[]"
	}
	if config.SchemaQueryFormat == "" {
		config.SchemaQueryFormat = "meta %s"
	}
	return &Conn{
		config: config,
		client: client,
		logger: slog.Default().With("component", "transport"),
	}
}

// Close marks the connection closed. Subsequent queries fail with
// ErrConnClosed.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

type wireQuery struct {
	Query string `json:"query"`
}

type wireError struct {
	Error string `json:"error"`
}

// Query sends one query string and returns the classified raw result. The
// result's shape is decided here, at the boundary; callers pattern-match on
// RawResult.Shape and never re-inspect wire types.
func (c *Conn) Query(ctx context.Context, query string) (RawResult, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return RawResult{}, ErrConnClosed
	}
	if query == "" {
		return RawResult{}, ErrEmptyQuery
	}
	if len(query) > c.config.MaxQueryLen {
		return RawResult{}, fmt.Errorf("transport: %w (%d > %d)", ErrQueryTooLong, len(query), c.config.MaxQueryLen)
	}

	body, err := json.Marshal(wireQuery{Query: query})
	if err != nil {
		return RawResult{}, fmt.Errorf("transport: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return RawResult{}, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.Username != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return RawResult{}, newTransportError(TransportErrorTypeNetwork, "query failed", c.config.URL, 0, err)
	}
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if c.config.MaxResponseBytes > 0 {
		reader = io.LimitReader(resp.Body, c.config.MaxResponseBytes)
	}

	if resp.StatusCode != http.StatusOK {
		msg := "query rejected"
		var we wireError
		if b, rerr := io.ReadAll(reader); rerr == nil {
			if json.Unmarshal(b, &we) == nil && we.Error != "" {
				msg = we.Error
			}
		}
		return RawResult{}, newTransportError(TransportErrorTypeRejected, msg, c.config.URL, resp.StatusCode, nil)
	}

	raw := DecodeRawResult(reader)
	c.logger.Debug("query completed",
		"shape", raw.Shape.String(),
		"duration", time.Since(start),
	)
	return raw, nil
}

// QueryTable runs a query and normalizes the result in one step.
func (c *Conn) QueryTable(ctx context.Context, query string) (NormalizedTable, error) {
	raw, err := c.Query(ctx, query)
	if err != nil {
		return EmptyTable(), err
	}
	return Normalize(raw), nil
}

// Tables lists the database's tables using the configured listing query.
func (c *Conn) Tables(ctx context.Context) ([]string, error) {
	table, err := c.QueryTable(ctx, c.config.TablesQuery)
	if err != nil {
		return nil, err
	}
	ci := table.ColumnIndex(scalarListSymbolColumn)
	if ci < 0 {
		return nil, nil
	}
	names := make([]string, 0, len(table.Rows))
	for _, row := range table.Rows {
		if s, ok := row[ci].(string); ok {
			names = append(names, s)
		}
	}
	return names, nil
}

// TableSchema fetches the schema of one table using the configured schema
// query format.
func (c *Conn) TableSchema(ctx context.Context, table string) (NormalizedTable, error) {
	return c.QueryTable(ctx, fmt.Sprintf(c.config.SchemaQueryFormat, table))
}
