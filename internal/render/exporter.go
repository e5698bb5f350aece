package render

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazereport/internal/content"
)

// Exporter is a content.DataExporter that reads the chart data endpoint.
type Exporter struct {
	client *client
}

// NewExporter creates a data exporter client.
func NewExporter(cfg Config, logger *zap.SugaredLogger) *Exporter {
	return &Exporter{client: newClient(cfg, logger)}
}

// FetchCSV implements content.DataExporter.
func (e *Exporter) FetchCSV(ctx context.Context, url string, creds content.Credentials) ([]byte, error) {
	resp, err := e.client.do(ctx, http.MethodGet, url, creds.Token, "", nil)
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

type chartDataResponse struct {
	Result []struct {
		Colnames []string         `json:"colnames"`
		Data     []map[string]any `json:"data"`
	} `json:"result"`
}

// FetchTable implements content.DataExporter. It returns nil when the
// response holds no result set.
func (e *Exporter) FetchTable(ctx context.Context, url string, creds content.Credentials) (*content.Table, error) {
	resp, err := e.client.do(ctx, http.MethodGet, url, creds.Token, "", nil)
	if err != nil {
		return nil, err
	}

	var parsed chartDataResponse
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		return nil, errors.Wrap(err, "decode chart data")
	}
	if len(parsed.Result) == 0 {
		//nolint:nilnil
		return nil, nil
	}

	res := parsed.Result[0]
	cols := res.Colnames
	if len(cols) == 0 && len(res.Data) > 0 {
		for k := range res.Data[0] {
			cols = append(cols, k)
		}
		sort.Strings(cols)
	}

	t := &content.Table{Columns: cols, Rows: make([][]string, 0, len(res.Data))}
	for _, row := range res.Data {
		cells := make([]string, len(cols))
		for i, c := range cols {
			if v, ok := row[c]; ok && v != nil {
				cells[i] = formatCell(v)
			}
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, nil
}

func formatCell(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}
