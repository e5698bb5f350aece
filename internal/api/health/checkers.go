package health

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Pinger is implemented by anything that can verify its connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports the health of a Pinger under a fixed name.
type PingChecker struct {
	name   string
	pinger Pinger
}

// NewSQLiteChecker checks the schedule database.
func NewSQLiteChecker(p Pinger) *PingChecker {
	return &PingChecker{name: "sqlite", pinger: p}
}

// NewDatasourceChecker checks the alert datasources.
func NewDatasourceChecker(p Pinger) *PingChecker {
	return &PingChecker{name: "datasources", pinger: p}
}

// Name returns the checker name.
func (c *PingChecker) Name() string {
	return c.name
}

// Check pings the dependency.
func (c *PingChecker) Check(ctx context.Context) error {
	if c.pinger == nil {
		return errors.Newf("%s not initialized", c.name)
	}
	return c.pinger.Ping(ctx)
}
