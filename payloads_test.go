package hostel_test

import (
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-hostel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginPayloadValidate(t *testing.T) {
	valid := hostel.LoginPayload{Email: "asha@hostel.test", Password: "secret", Role: hostel.RoleStudent}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		payload hostel.LoginPayload
		field   string
	}{
		{"missing email", hostel.LoginPayload{Password: "x", Role: hostel.RoleAdmin}, "email"},
		{"bad email", hostel.LoginPayload{Email: "asha", Password: "x", Role: hostel.RoleAdmin}, "email"},
		{"missing password", hostel.LoginPayload{Email: "a@b.com", Role: hostel.RoleAdmin}, "password"},
		{"unknown role", hostel.LoginPayload{Email: "a@b.com", Password: "x", Role: "warden"}, "role"},
		{"missing role", hostel.LoginPayload{Email: "a@b.com", Password: "x"}, "role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			require.Error(t, err)
			assert.True(t, hostel.IsInvalidPayload(err))

			var richErr *goerrors.Error
			require.True(t, goerrors.As(err, &richErr))
			assert.Contains(t, richErr.Metadata, tt.field)
		})
	}
}

func TestRegisterPayload(t *testing.T) {
	t.Run("short password", func(t *testing.T) {
		err := hostel.RegisterPayload{
			Email: "a@b.com", Password: "12345", FullName: "A", Role: hostel.RoleStudent,
		}.Validate()
		assert.True(t, hostel.IsInvalidPayload(err))
	})

	t.Run("missing name", func(t *testing.T) {
		err := hostel.RegisterPayload{
			Email: "a@b.com", Password: "123456", Role: hostel.RoleStudent,
		}.Validate()
		assert.True(t, hostel.IsInvalidPayload(err))
	})

	t.Run("profile defaults approval by role", func(t *testing.T) {
		payload := hostel.RegisterPayload{
			Email:      "Asha@Hostel.TEST",
			Password:   "123456",
			FullName:   " Asha ",
			Role:       hostel.RoleStudent,
			HostelID:   "h1",
			RoomNumber: "B-12",
			StudentID:  "STU-1",
		}
		require.NoError(t, payload.Validate())

		profile := payload.Profile("u1")
		assert.Equal(t, "u1", profile.ID)
		assert.Equal(t, "asha@hostel.test", profile.Email)
		assert.Equal(t, "Asha", profile.Name())
		assert.Equal(t, hostel.ApprovalPending, profile.ApprovalStatus)
		assert.Equal(t, "B-12", profile.RoomNumber)
		assert.False(t, profile.IsApproved())

		payload.Role = hostel.RoleAdmin
		admin := payload.Profile("a1")
		assert.Equal(t, hostel.ApprovalApproved, admin.ApprovalStatus)
		assert.True(t, admin.IsApproved())
	})
}

func TestRoles(t *testing.T) {
	role, ok := hostel.ParseRole("caretaker")
	assert.True(t, ok)
	assert.Equal(t, hostel.RoleCaretaker, role)

	_, ok = hostel.ParseRole("warden")
	assert.False(t, ok)

	assert.Len(t, hostel.AllRoles(), 3)
	assert.True(t, hostel.ApprovalRejected.IsValid())
	assert.False(t, hostel.ApprovalStatus("maybe").IsValid())

	var nilProfile *hostel.UserProfile
	assert.Nil(t, nilProfile.Clone())
	assert.Equal(t, "", nilProfile.Name())
}
