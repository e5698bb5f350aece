package auth

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/good-yellow-bee/blazereport/internal/models"
	"github.com/good-yellow-bee/blazereport/internal/reporterr"
)

// ExecutorType names a rule for picking the user a schedule runs as.
type ExecutorType string

const (
	ExecutorOwner         ExecutorType = "owner"
	ExecutorCreator       ExecutorType = "creator"
	ExecutorCreatorOwner  ExecutorType = "creator_owner"
	ExecutorModifier      ExecutorType = "modifier"
	ExecutorModifierOwner ExecutorType = "modifier_owner"
	ExecutorFixed         ExecutorType = "fixed"
)

// ExecutorSpec is one entry of the ordered executor list.
type ExecutorSpec struct {
	Type ExecutorType
	// Username is set for ExecutorFixed only.
	Username string
}

// ParseExecutors parses entries like "owner" or "fixed:admin".
func ParseExecutors(entries []string) ([]ExecutorSpec, error) {
	specs := make([]ExecutorSpec, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if name, ok := strings.CutPrefix(e, "fixed:"); ok {
			if name == "" {
				return nil, errors.Newf("fixed executor needs a username: %q", e)
			}
			specs = append(specs, ExecutorSpec{Type: ExecutorFixed, Username: name})
			continue
		}
		switch t := ExecutorType(strings.ToLower(e)); t {
		case ExecutorOwner, ExecutorCreator, ExecutorCreatorOwner, ExecutorModifier, ExecutorModifierOwner:
			specs = append(specs, ExecutorSpec{Type: t})
		default:
			return nil, errors.Newf("unknown executor type: %q", e)
		}
	}
	if len(specs) == 0 {
		return nil, errors.New("at least one executor type is required")
	}
	return specs, nil
}

// ExecutorName picks the executor username for s by walking specs in order.
func ExecutorName(specs []ExecutorSpec, s *models.Schedule) (ExecutorType, string, error) {
	isOwner := func(u *models.User) bool {
		if u == nil {
			return false
		}
		for _, o := range s.Owners {
			if o.ID == u.ID {
				return true
			}
		}
		return false
	}

	for _, spec := range specs {
		switch spec.Type {
		case ExecutorFixed:
			return spec.Type, spec.Username, nil
		case ExecutorCreator:
			if s.CreatedBy != nil {
				return spec.Type, s.CreatedBy.Username, nil
			}
		case ExecutorModifier:
			if s.ChangedBy != nil {
				return spec.Type, s.ChangedBy.Username, nil
			}
		case ExecutorCreatorOwner:
			if isOwner(s.CreatedBy) {
				return spec.Type, s.CreatedBy.Username, nil
			}
		case ExecutorModifierOwner:
			if isOwner(s.ChangedBy) {
				return spec.Type, s.ChangedBy.Username, nil
			}
		case ExecutorOwner:
			switch {
			case len(s.Owners) == 1:
				return spec.Type, s.Owners[0].Username, nil
			case len(s.Owners) > 1:
				if isOwner(s.ChangedBy) {
					return spec.Type, s.ChangedBy.Username, nil
				}
				if isOwner(s.CreatedBy) {
					return spec.Type, s.CreatedBy.Username, nil
				}
				return spec.Type, s.Owners[0].Username, nil
			}
		}
	}
	return "", "", reporterr.New(reporterr.ExecutorNotFound)
}

// UserLookup finds users by username.
type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// Identity is the resolved executor and its machine token.
type Identity struct {
	User  *models.User
	Type  ExecutorType
	Token string
}

// Resolver resolves schedule executors to active users.
type Resolver struct {
	specs  []ExecutorSpec
	users  UserLookup
	tokens *JWTService
}

// NewResolver creates a Resolver. tokens may be nil, in which case
// identities carry no token.
func NewResolver(specs []ExecutorSpec, users UserLookup, tokens *JWTService) *Resolver {
	return &Resolver{specs: specs, users: users, tokens: tokens}
}

// Resolve returns the identity s executes as.
func (r *Resolver) Resolve(ctx context.Context, s *models.Schedule) (*Identity, error) {
	typ, username, err := ExecutorName(r.specs, s)
	if err != nil {
		return nil, err
	}
	user, err := r.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, errors.Wrapf(err, "look up executor %s", username)
	}
	if user == nil || !user.Active {
		return nil, reporterr.Newf(reporterr.ExecutorNotFound, "Executor %q is not an active user.", username)
	}

	id := &Identity{User: user, Type: typ}
	if r.tokens != nil {
		if id.Token, err = r.tokens.GenerateToken(user); err != nil {
			return nil, err
		}
	}
	return id, nil
}
