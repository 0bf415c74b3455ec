package authd

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-hostel"
	"github.com/goliatone/go-hostel/identity/local"
	"github.com/goliatone/go-hostel/profiles"
)

const (
	localsClaims = "hostel.claims"
	authScheme   = "Bearer"
)

type credentialsRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

type approvalRequest struct {
	Status hostel.ApprovalStatus `json:"status"`
	Reason string                `json:"reason"`
}

func (r approvalRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Status, validation.Required,
			validation.In(hostel.ApprovalPending, hostel.ApprovalApproved, hostel.ApprovalRejected)),
		validation.Field(&r.Reason, validation.Length(0, 500)),
	)
}

func (s *Server) signUp(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(err)
	}

	session, err := s.authority.SignUp(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(session)
}

// token handles the password and refresh_token grants.
func (s *Server) token(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(err)
	}

	var (
		session *hostel.Session
		err     error
	)
	switch c.Query("grant_type") {
	case "password":
		session, err = s.authority.SignInWithPassword(c.UserContext(), req.Email, req.Password)
	case "refresh_token":
		session, err = s.authority.Refresh(c.UserContext(), req.RefreshToken)
	default:
		return errGrantType
	}
	if err != nil {
		return err
	}
	return c.JSON(session)
}

func (s *Server) logout(c *fiber.Ctx) error {
	token, err := bearerToken(c)
	if err != nil {
		return err
	}
	if err := s.authority.SignOut(c.UserContext(), token); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) user(c *fiber.Ctx) error {
	claims := c.Locals(localsClaims).(*local.Claims)
	return c.JSON(fiber.Map{
		"id":    claims.Subject,
		"email": claims.Email,
		"role":  claims.Role,
	})
}

func (s *Server) listProfiles(c *fiber.Ctx) error {
	filter := profiles.ListFilter{
		Role:     hostel.Role(c.Query("role")),
		Status:   hostel.ApprovalStatus(c.Query("status")),
		HostelID: c.Query("hostel_id"),
		Limit:    c.QueryInt("limit", 0),
	}
	if filter.Role != "" && !filter.Role.IsValid() {
		return fiber.NewError(fiber.StatusBadRequest, "unknown role")
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return fiber.NewError(fiber.StatusBadRequest, "unknown approval status")
	}

	rows, err := s.profiles.ListProfiles(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return c.JSON(rows)
}

func (s *Server) setApproval(c *fiber.Ctx) error {
	var req approvalRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(err)
	}
	if err := req.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid approval payload").
			WithTextCode(hostel.TextCodeInvalidPayload)
	}

	id := c.Params("id")
	profile, err := s.profiles.SetApproval(c.UserContext(), id, req.Status, req.Reason)
	if err != nil {
		return err
	}

	claims := c.Locals(localsClaims).(*local.Claims)
	s.logger.Info("approval updated", "subject", id, "status", req.Status, "by", claims.Subject)
	return c.JSON(profile)
}

// requireSession validates the bearer token against the authority, so
// revoked sessions are rejected, and stores the claims in locals.
func (s *Server) requireSession(c *fiber.Ctx) error {
	token, err := bearerToken(c)
	if err != nil {
		return err
	}

	_, claims, err := s.authority.User(c.UserContext(), token)
	if err != nil {
		return err
	}
	c.Locals(localsClaims, claims)
	return c.Next()
}

// requireAdmin lets through approved admins only.
func (s *Server) requireAdmin(c *fiber.Ctx) error {
	claims := c.Locals(localsClaims).(*local.Claims)

	profile, err := s.profiles.FetchProfileByID(c.UserContext(), claims.Subject)
	if err != nil {
		return err
	}
	if profile == nil || profile.Role != hostel.RoleAdmin || !profile.IsApproved() {
		return errNotAdmin
	}
	return c.Next()
}

func bearerToken(c *fiber.Ctx) (string, error) {
	header := c.Get(fiber.HeaderAuthorization)
	l := len(authScheme)
	if len(header) > l+1 && header[l] == ' ' && strings.EqualFold(header[:l], authScheme) {
		if token := strings.TrimSpace(header[l:]); token != "" {
			return token, nil
		}
	}
	return "", missingToken()
}

func badBody(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "malformed request body").
		WithTextCode(hostel.TextCodeInvalidPayload)
}
