package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type ConfigInput struct {
	OptoutNumber string `json:"optoutNumber" validate:"required"`
	OptoutPhrase string `json:"optoutPhrase"`
	OptinPhrase  string `json:"optinPhrase"`
}

func (in ConfigInput) normalized() (ConfigInput, error) {
	in.OptoutNumber = strings.TrimSpace(in.OptoutNumber)
	if Normalize(in.OptoutNumber) == "" {
		return in, NewValidationError("invalid_number", "optoutNumber must contain digits")
	}
	if strings.TrimSpace(in.OptoutPhrase) == "" {
		in.OptoutPhrase = DefaultOptOutPhrase
	}
	if strings.TrimSpace(in.OptinPhrase) == "" {
		in.OptinPhrase = DefaultOptInPhrase
	}
	return in, nil
}

func (s *Store) ListConfigs(ctx context.Context) []OptOutConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)
	return append([]OptOutConfig{}, s.configs...)
}

func (s *Store) GetConfig(ctx context.Context, id string) (OptOutConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)
	if i := s.configIndexLocked(id); i >= 0 {
		return s.configs[i], nil
	}
	return OptOutConfig{}, NewNotFoundError("config")
}

// CreateConfig adds a rule set. Only one rule set may claim a receiving number.
func (s *Store) CreateConfig(ctx context.Context, in ConfigInput) (OptOutConfig, error) {
	in, err := in.normalized()
	if err != nil {
		return OptOutConfig{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)

	if err := s.checkNumberFreeLocked(in.OptoutNumber, ""); err != nil {
		return OptOutConfig{}, err
	}
	c := OptOutConfig{
		ID:           uuid.NewString(),
		OptoutNumber: in.OptoutNumber,
		OptoutPhrase: in.OptoutPhrase,
		OptinPhrase:  in.OptinPhrase,
		CreatedAt:    s.now().UTC(),
	}
	s.configs = append(s.configs, c)
	return c, s.persistConfigLocked(ctx)
}

func (s *Store) UpdateConfig(ctx context.Context, id string, in ConfigInput) (OptOutConfig, error) {
	in, err := in.normalized()
	if err != nil {
		return OptOutConfig{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)

	i := s.configIndexLocked(id)
	if i < 0 {
		return OptOutConfig{}, NewNotFoundError("config")
	}
	if err := s.checkNumberFreeLocked(in.OptoutNumber, id); err != nil {
		return OptOutConfig{}, err
	}
	now := s.now().UTC()
	c := &s.configs[i]
	c.OptoutNumber = in.OptoutNumber
	c.OptoutPhrase = in.OptoutPhrase
	c.OptinPhrase = in.OptinPhrase
	c.UpdatedAt = &now
	return *c, s.persistConfigLocked(ctx)
}

func (s *Store) DeleteConfig(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)

	i := s.configIndexLocked(id)
	if i < 0 {
		return NewNotFoundError("config")
	}
	s.configs = append(s.configs[:i], s.configs[i+1:]...)
	return s.persistConfigLocked(ctx)
}

func (s *Store) configIndexLocked(id string) int {
	for i, c := range s.configs {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) checkNumberFreeLocked(number, exceptID string) error {
	n := Normalize(number)
	for _, c := range s.configs {
		if c.ID != exceptID && Normalize(c.OptoutNumber) == n {
			return NewConflictError("duplicate_number",
				fmt.Sprintf("number %s already has a config (%s)", n, c.ID))
		}
	}
	return nil
}
