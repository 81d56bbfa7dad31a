// Package querygrid provides the result-processing backend for a browser-based
// query console over a columnar time-series database.
//
// The database returns query results in several shapes: row lists, column maps,
// scalar lists, and single scalars, with type-specific sentinel values standing
// in for nulls. querygrid normalizes all of them into one uniform tabular
// structure and derives fixed-size intensity matrices ("heatmaps") from
// time-indexed numeric series for visualization.
//
// # Basic Usage
//
// Connect to a database and run a query:
//
//	conn := querygrid.NewConn(querygrid.DefaultConnConfig("http://localhost:5000"))
//	raw, err := conn.Query(ctx, "select time, price from trades")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	table := querygrid.Normalize(raw)
//
// Derive a heatmap from the normalized table:
//
//	decision := querygrid.Classify(table, "time", []string{"price"})
//	matrix := querygrid.BuildMatrix(table, "time", []string{"price"}, decision)
//
// # Features
//
// Core Pipeline:
//   - Shape detection over heterogeneous wire results (RawResult sum type)
//   - Sentinel-to-null conversion and per-column type inference
//   - Temporal value classification (time-of-day, date, datetime, epoch)
//   - Data-shape classification (OHLC, time+price, time+volume, distribution)
//   - Adaptive bucketing into normalized intensity matrices
//
// Console & Integrations:
//   - Embeddable HTTP query console with paginated results
//   - WebSocket streaming of live query results
//   - Snappy-compressed LRU result cache
//   - SQLite-backed table catalog and query history
//   - CSV/JSON export to local files or S3
//   - Prometheus remote-write publishing of numeric result series
//
// The core pipeline functions (Normalize, ParseTemporal, Classify, BuildMatrix)
// are pure and allocation-fresh: they hold no state between calls and are safe
// to call concurrently. They never return errors for data-shape problems; any
// malformed input degrades to an empty table or matrix.
package querygrid
