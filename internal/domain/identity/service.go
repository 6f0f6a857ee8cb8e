package identity

import (
	"context"
	"fmt"
)

type Service struct {
	dir Directory
}

func NewService(dir Directory) *Service {
	return &Service{dir: dir}
}

// Resolve maps an authenticated subject to its identity. An empty subject
// resolves to ErrUserNotFound.
func (s *Service) Resolve(ctx context.Context, subject string) (*Identity, error) {
	if subject == "" {
		return nil, ErrUserNotFound
	}
	ident, err := s.dir.FindBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", subject, err)
	}
	return ident, nil
}
