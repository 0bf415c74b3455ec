package hostel

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// LoginPayload holds the credentials and the role the user logs in as.
type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// Validate checks the login preconditions.
func (p LoginPayload) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
		validation.Field(&p.Role, validation.Required, validation.In(RoleStudent, RoleCaretaker, RoleAdmin)),
	)
	return payloadError("invalid login payload", err)
}

// RegisterPayload is the registration form. Role specific attributes are
// passed through to the profile row as given.
type RegisterPayload struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	Role       Role   `json:"role"`
	HostelID   string `json:"hostel_id,omitempty"`
	RoomNumber string `json:"room_number,omitempty"`
	StudentID  string `json:"student_id,omitempty"`
	Department string `json:"department,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// MinPasswordLength matches the identity backends' minimum.
var MinPasswordLength = 6

// Validate checks the registration preconditions.
func (p RegisterPayload) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required, validation.Length(MinPasswordLength, 0)),
		validation.Field(&p.FullName, validation.Required),
		validation.Field(&p.Role, validation.Required, validation.In(RoleStudent, RoleCaretaker, RoleAdmin)),
	)
	return payloadError("invalid registration payload", err)
}

// Profile builds the row inserted for subject, with the approval state
// defaulted by role.
func (p RegisterPayload) Profile(subject string) *UserProfile {
	return &UserProfile{
		ID:             subject,
		Email:          strings.ToLower(strings.TrimSpace(p.Email)),
		FullName:       strings.TrimSpace(p.FullName),
		Role:           p.Role,
		HostelID:       p.HostelID,
		RoomNumber:     p.RoomNumber,
		StudentID:      p.StudentID,
		Department:     p.Department,
		Phone:          p.Phone,
		ApprovalStatus: p.Role.DefaultApproval(),
	}
}

func payloadError(message string, err error) error {
	if err == nil {
		return nil
	}

	metadata := map[string]any{}
	if fields, ok := err.(validation.Errors); ok {
		for field, fieldErr := range fields {
			metadata[field] = fieldErr.Error()
		}
	} else {
		metadata["error"] = err.Error()
	}

	clone := ErrInvalidPayload.Clone()
	if clone == nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, message)
	}
	clone.Message = message
	clone.Source = err
	return clone.WithMetadata(metadata)
}
