package querygrid

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// routingDoer answers each query with a canned body keyed by query text.
type routingDoer struct {
	responses map[string]string
}

func (d *routingDoer) Do(req *http.Request) (*http.Response, error) {
	b, _ := io.ReadAll(req.Body)
	var q wireQuery
	json.Unmarshal(b, &q)
	body, ok := d.responses[q.Query]
	if !ok {
		return &http.Response{
			StatusCode: http.StatusBadRequest,
			Body:       io.NopCloser(strings.NewReader(`{"error":"unknown query"}`)),
			Header:     make(http.Header),
		}, nil
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}, nil
}

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	catalog, err := OpenCatalog(DefaultCatalogConfig(path))
	if err != nil {
		t.Fatalf("OpenCatalog() error = %v", err)
	}
	t.Cleanup(func() { catalog.Close() })
	return catalog
}

func TestCatalogRefresh(t *testing.T) {
	doer := &routingDoer{responses: map[string]string{
		"tables[]":    `["trades","quotes"]`,
		"meta trades": `[{"c":"time","t":"t"},{"c":"sym","t":"s"},{"c":"price","t":"f"}]`,
		"meta quotes": `[{"c":"time","t":"t"},{"c":"bid","t":"f"}]`,
	}}
	conn := NewConnWithClient(DefaultConnConfig("http://localhost:5000"), doer)
	catalog := openTestCatalog(t)

	infos, err := catalog.Refresh(context.Background(), conn)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("Refresh() = %d tables, want 2", len(infos))
	}

	got, err := catalog.Tables(context.Background())
	if err != nil {
		t.Fatalf("Tables() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Tables() = %d, want 2", len(got))
	}
	// Ordered by name: quotes before trades.
	if got[0].Name != "quotes" || got[1].Name != "trades" {
		t.Errorf("names = %q, %q", got[0].Name, got[1].Name)
	}
	trades := got[1]
	if len(trades.Columns) != 3 || trades.Columns[1] != "sym" {
		t.Errorf("trades columns = %v", trades.Columns)
	}
	if trades.Types[0] != TypeTimeMillis || trades.Types[1] != TypeSymbol || trades.Types[2] != TypeNumber {
		t.Errorf("trades types = %v", trades.Types)
	}
}

func TestCatalogRefresh_SchemaFailureSkipped(t *testing.T) {
	doer := &routingDoer{responses: map[string]string{
		"tables[]":    `["trades","broken"]`,
		"meta trades": `[{"c":"time","t":"t"}]`,
		// "meta broken" is absent, so its schema fetch fails.
	}}
	conn := NewConnWithClient(DefaultConnConfig("http://localhost:5000"), doer)
	catalog := openTestCatalog(t)

	infos, err := catalog.Refresh(context.Background(), conn)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("Refresh() = %d tables, want both kept", len(infos))
	}
	for _, info := range infos {
		if info.Name == "broken" && info.Columns != nil {
			t.Errorf("broken table has columns %v, want none", info.Columns)
		}
	}
}

func TestCatalogTable(t *testing.T) {
	catalog := openTestCatalog(t)
	doer := &routingDoer{responses: map[string]string{
		"tables[]":    `["trades"]`,
		"meta trades": `[{"c":"time","t":"p"}]`,
	}}
	conn := NewConnWithClient(DefaultConnConfig("http://localhost:5000"), doer)
	if _, err := catalog.Refresh(context.Background(), conn); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	info, err := catalog.Table(context.Background(), "trades")
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	if info == nil || info.Types[0] != TypeDateTime {
		t.Errorf("Table() = %+v", info)
	}

	missing, err := catalog.Table(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Table(missing) error = %v", err)
	}
	if missing != nil {
		t.Errorf("Table(missing) = %+v, want nil", missing)
	}
}

func TestCatalogHistory(t *testing.T) {
	catalog := openTestCatalog(t)
	ctx := context.Background()

	for i, q := range []string{"first", "second", "third"} {
		err := catalog.RecordExecution(ctx, HistoryEntry{
			Query:    q,
			RowCount: i,
			Duration: int64(i * 10),
		})
		if err != nil {
			t.Fatalf("RecordExecution(%q) error = %v", q, err)
		}
	}

	entries, err := catalog.History(ctx, 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("History() = %d entries, want 2", len(entries))
	}
	// Newest first.
	if entries[0].Query != "third" || entries[1].Query != "second" {
		t.Errorf("order = %q, %q", entries[0].Query, entries[1].Query)
	}
	if entries[0].ExecutedAt.IsZero() {
		t.Error("ExecutedAt not populated")
	}
}

func TestCatalogHistory_Trim(t *testing.T) {
	config := DefaultCatalogConfig(filepath.Join(t.TempDir(), "catalog.db"))
	config.HistoryLimit = 3
	catalog, err := OpenCatalog(config)
	if err != nil {
		t.Fatalf("OpenCatalog() error = %v", err)
	}
	defer catalog.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		entry := HistoryEntry{Query: "q", ExecutedAt: time.Now().Add(time.Duration(i) * time.Second)}
		if err := catalog.RecordExecution(ctx, entry); err != nil {
			t.Fatalf("RecordExecution() error = %v", err)
		}
	}

	entries, err := catalog.History(ctx, 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("History() = %d entries after trim, want 3", len(entries))
	}
}

func TestCatalogClosed(t *testing.T) {
	catalog := openTestCatalog(t)
	catalog.Close()

	if _, err := catalog.Tables(context.Background()); !errors.Is(err, ErrCatalogClosed) {
		t.Errorf("Tables() error = %v, want ErrCatalogClosed", err)
	}
	if err := catalog.RecordExecution(context.Background(), HistoryEntry{Query: "q"}); !errors.Is(err, ErrCatalogClosed) {
		t.Errorf("RecordExecution() error = %v, want ErrCatalogClosed", err)
	}
}

func TestTypeTagForCode(t *testing.T) {
	tests := []struct {
		code string
		want TypeTag
	}{
		{"f", TypeNumber},
		{"j", TypeNumber},
		{"s", TypeSymbol},
		{"c", TypeString},
		{"t", TypeTimeMillis},
		{"v", TypeTimeSecond},
		{"u", TypeTimeMinute},
		{"d", TypeDate},
		{"p", TypeDateTime},
		{"z", TypeDateTime},
		{"?", TypeMixed},
	}
	for _, tt := range tests {
		if got := typeTagForCode(tt.code); got != tt.want {
			t.Errorf("typeTagForCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
