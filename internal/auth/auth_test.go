package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazereport/internal/models"
	"github.com/good-yellow-bee/blazereport/internal/reporterr"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService([]byte("secret"), time.Minute)
	user := &models.User{ID: "u1", Username: "bot", Role: models.RoleOperator}

	token, err := svc.GenerateToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "bot", claims.Username)
	assert.Equal(t, models.RoleOperator, claims.Role)
}

func TestJWTService_RejectsExpiredAndForeign(t *testing.T) {
	svc := NewJWTService([]byte("secret"), time.Minute)
	token, err := svc.GenerateToken(&models.User{ID: "u1"})
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = svc.ValidateToken(token)
	assert.Error(t, err)

	other := NewJWTService([]byte("other"), time.Minute)
	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTService_RequiresSecret(t *testing.T) {
	_, err := NewJWTService(nil, time.Minute).GenerateToken(&models.User{ID: "u1"})
	assert.Error(t, err)
}

func TestParseExecutors(t *testing.T) {
	specs, err := ParseExecutors([]string{"owner", "fixed:admin", "Creator"})
	require.NoError(t, err)
	assert.Equal(t, []ExecutorSpec{
		{Type: ExecutorOwner},
		{Type: ExecutorFixed, Username: "admin"},
		{Type: ExecutorCreator},
	}, specs)

	_, err = ParseExecutors([]string{"robot"})
	assert.Error(t, err)
	_, err = ParseExecutors([]string{"fixed:"})
	assert.Error(t, err)
	_, err = ParseExecutors(nil)
	assert.Error(t, err)
}

func TestExecutorName(t *testing.T) {
	ann := models.User{ID: "1", Username: "ann"}
	bob := models.User{ID: "2", Username: "bob"}
	cy := models.User{ID: "3", Username: "cy"}

	tests := []struct {
		name     string
		specs    []ExecutorSpec
		schedule models.Schedule
		want     string
		wantErr  bool
	}{
		{
			name:     "single owner",
			specs:    []ExecutorSpec{{Type: ExecutorOwner}},
			schedule: models.Schedule{Owners: []models.User{ann}},
			want:     "ann",
		},
		{
			name:     "modifier preferred among owners",
			specs:    []ExecutorSpec{{Type: ExecutorOwner}},
			schedule: models.Schedule{Owners: []models.User{ann, bob}, ChangedBy: &bob, CreatedBy: &ann},
			want:     "bob",
		},
		{
			name:     "creator when modifier is not an owner",
			specs:    []ExecutorSpec{{Type: ExecutorOwner}},
			schedule: models.Schedule{Owners: []models.User{ann, bob}, ChangedBy: &cy, CreatedBy: &bob},
			want:     "bob",
		},
		{
			name:     "creator_owner falls through to fixed",
			specs:    []ExecutorSpec{{Type: ExecutorCreatorOwner}, {Type: ExecutorFixed, Username: "admin"}},
			schedule: models.Schedule{Owners: []models.User{ann}, CreatedBy: &cy},
			want:     "admin",
		},
		{
			name:     "modifier",
			specs:    []ExecutorSpec{{Type: ExecutorModifier}},
			schedule: models.Schedule{ChangedBy: &cy},
			want:     "cy",
		},
		{
			name:     "nothing resolves",
			specs:    []ExecutorSpec{{Type: ExecutorOwner}, {Type: ExecutorCreator}},
			schedule: models.Schedule{},
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got, err := ExecutorName(tt.specs, &tt.schedule)
			if tt.wantErr {
				assert.True(t, reporterr.Is(err, reporterr.ExecutorNotFound))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type mapUsers map[string]*models.User

func (m mapUsers) GetByUsername(_ context.Context, username string) (*models.User, error) {
	return m[username], nil
}

func TestResolver(t *testing.T) {
	users := mapUsers{
		"ann":  {ID: "1", Username: "ann", Active: true},
		"gone": {ID: "2", Username: "gone", Active: false},
	}
	tokens := NewJWTService([]byte("s"), time.Minute)

	r := NewResolver([]ExecutorSpec{{Type: ExecutorOwner}}, users, tokens)
	id, err := r.Resolve(context.Background(), &models.Schedule{Owners: []models.User{*users["ann"]}})
	require.NoError(t, err)
	assert.Equal(t, "ann", id.User.Username)
	assert.Equal(t, ExecutorOwner, id.Type)
	assert.NotEmpty(t, id.Token)

	r = NewResolver([]ExecutorSpec{{Type: ExecutorFixed, Username: "gone"}}, users, tokens)
	_, err = r.Resolve(context.Background(), &models.Schedule{})
	assert.True(t, reporterr.Is(err, reporterr.ExecutorNotFound))
}
