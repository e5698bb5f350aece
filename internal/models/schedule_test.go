package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReportState(t *testing.T) {
	for _, s := range []ReportState{StateNone, StateIdle, StateError, StateWorking, StateSuccess, StateGrace} {
		got, err := ParseReportState(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseReportState("paused")
	assert.Error(t, err)
}

func TestScheduleValidate(t *testing.T) {
	s := &Schedule{Name: "weekly", Type: TypeReport, Chart: &ChartRef{ID: 1}}
	require.NoError(t, s.Validate())

	s.Dashboard = &DashboardRef{ID: 2}
	assert.Error(t, s.Validate(), "chart and dashboard are exclusive")

	s.Dashboard = nil
	s.Type = TypeAlert
	assert.Error(t, s.Validate(), "alerts need sql")

	s.SQL = "SELECT 1"
	s.GracePeriod = -time.Second
	assert.Error(t, s.Validate())
}

func TestScheduleCloneIsIndependent(t *testing.T) {
	v := 3.0
	s := Schedule{
		Chart:      &ChartRef{ID: 1, Name: "sales"},
		Owners:     []User{{Username: "ann"}},
		Recipients: []Recipient{{Type: RecipientSlack, Config: RecipientConfig{Target: "#ops"}}},
		Cursor:     Cursor{LastValue: &v},
	}
	c := s.Clone()
	c.Chart.Name = "changed"
	c.Owners[0].Username = "bob"
	c.Recipients[0].Type = RecipientSlackV2
	*c.LastValue = 9

	assert.Equal(t, "sales", s.Chart.Name)
	assert.Equal(t, "ann", s.Owners[0].Username)
	assert.Equal(t, RecipientSlack, s.Recipients[0].Type)
	assert.Equal(t, 3.0, *s.LastValue)
}

func TestSplitTargets(t *testing.T) {
	assert.Equal(t, []string{"a@x.io", "b@x.io", "c@x.io"}, SplitTargets(" a@x.io, b@x.io;c@x.io ,"))
	assert.Empty(t, SplitTargets(""))
}

func TestRecipientConfigRoundTrip(t *testing.T) {
	r := Recipient{Config: RecipientConfig{Target: "C1,C2"}}
	raw, err := r.MarshalConfig()
	require.NoError(t, err)
	assert.JSONEq(t, `{"target":"C1,C2"}`, raw)

	var back Recipient
	require.NoError(t, back.UnmarshalConfig(raw))
	assert.Equal(t, []string{"C1", "C2"}, back.Config.Targets())
}

func TestParseRecipientType(t *testing.T) {
	rt, err := ParseRecipientType("SLACKV2")
	require.NoError(t, err)
	assert.Equal(t, RecipientSlackV2, rt)
	_, err = ParseRecipientType("pager")
	assert.Error(t, err)
}
