package content

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// URLBuilder builds chart, dashboard and permalink URLs under a base URL.
type URLBuilder struct {
	base string
}

// NewURLBuilder returns a builder rooted at base.
func NewURLBuilder(base string) URLBuilder {
	return URLBuilder{base: strings.TrimRight(base, "/")}
}

// ChartData is the data endpoint of a chart, used for csv and json exports.
func (b URLBuilder) ChartData(chartID int64, format string, force bool) string {
	q := url.Values{}
	q.Set("format", format)
	q.Set("type", "post_processed")
	q.Set("force", strconv.FormatBool(force))
	return fmt.Sprintf("%s/api/v1/chart/%d/data/?%s", b.base, chartID, q.Encode())
}

// Explore is the interactive chart view.
func (b URLBuilder) Explore(chartID int64, force bool) string {
	formData, _ := json.Marshal(map[string]int64{"slice_id": chartID})
	q := url.Values{}
	q.Set("form_data", string(formData))
	q.Set("force", strconv.FormatBool(force))
	return fmt.Sprintf("%s/explore/?%s", b.base, q.Encode())
}

// Dashboard is the dashboard view addressed by uuid or numeric id.
func (b URLBuilder) Dashboard(idOrUUID string, force bool) string {
	q := url.Values{}
	q.Set("force", strconv.FormatBool(force))
	return fmt.Sprintf("%s/superset/dashboard/%s/?%s", b.base, url.PathEscape(idOrUUID), q.Encode())
}

// Permalink is the stateful dashboard URL for a permalink key.
func (b URLBuilder) Permalink(key string) string {
	return fmt.Sprintf("%s/superset/dashboard/p/%s/", b.base, url.PathEscape(key))
}
