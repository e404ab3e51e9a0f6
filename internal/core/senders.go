package core

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type SenderInput struct {
	SenderID    string `json:"senderId" validate:"required,alphanum,min=3,max=11"`
	Description string `json:"description"`
}

type SenderStatus string

const (
	SenderCreated SenderStatus = "created"
	SenderSkipped SenderStatus = "skipped"
	SenderInvalid SenderStatus = "invalid"
)

type SenderResult struct {
	SenderID string        `json:"senderId"`
	Status   SenderStatus  `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Sender   *CustomSender `json:"sender,omitempty"`
}

func (s *Store) ListSenders(ctx context.Context) []CustomSender {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)
	return append([]CustomSender{}, s.senders...)
}

// CreateSender registers an alphanumeric sender id. Ids are unique ignoring case.
func (s *Store) CreateSender(ctx context.Context, in SenderInput) (CustomSender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)

	sender, err := s.addSenderLocked(in)
	if err != nil {
		return CustomSender{}, err
	}
	return sender, s.persistConfigLocked(ctx)
}

// CreateSenders adds every valid, unseen sender and reports per item. It
// persists once, and only if something was created.
func (s *Store) CreateSenders(ctx context.Context, in []SenderInput) ([]SenderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)

	results := make([]SenderResult, 0, len(in))
	created := 0
	for _, item := range in {
		r := SenderResult{SenderID: item.SenderID}
		sender, err := s.addSenderLocked(item)
		switch {
		case err == nil:
			r.Status, r.Sender = SenderCreated, &sender
			created++
		case IsType(err, ErrorTypeConflict):
			r.Status, r.Reason = SenderSkipped, err.Error()
		default:
			r.Status, r.Reason = SenderInvalid, err.Error()
		}
		results = append(results, r)
	}
	if created == 0 {
		return results, nil
	}
	return results, s.persistConfigLocked(ctx)
}

func (s *Store) DeleteSender(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)

	for i, snd := range s.senders {
		if snd.ID == id {
			s.senders = append(s.senders[:i], s.senders[i+1:]...)
			return s.persistConfigLocked(ctx)
		}
	}
	return NewNotFoundError("sender")
}

func (s *Store) addSenderLocked(in SenderInput) (CustomSender, error) {
	in.SenderID = strings.TrimSpace(in.SenderID)
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && verrs[0].Tag() == "required" {
			return CustomSender{}, NewValidationError("missing_field", "Missing senderId")
		}
		return CustomSender{}, NewValidationError("invalid_sender_id",
			"senderId must be 3-11 alphanumeric characters")
	}
	for _, snd := range s.senders {
		if strings.EqualFold(snd.SenderID, in.SenderID) {
			return CustomSender{}, NewConflictError("duplicate_sender", "sender "+in.SenderID+" already exists")
		}
	}
	sender := CustomSender{
		ID:          uuid.NewString(),
		SenderID:    in.SenderID,
		Description: strings.TrimSpace(in.Description),
		CreatedAt:   s.now().UTC(),
	}
	s.senders = append(s.senders, sender)
	return sender, nil
}
