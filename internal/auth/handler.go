package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/schoolgate/schoolgate/internal/pin"
	"github.com/schoolgate/schoolgate/internal/session"
	"github.com/schoolgate/schoolgate/internal/validation"
)

const genericLoginError = "Invalid card or PIN"

// Refresher rotates and revokes refresh tokens.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (session.Session, error)
	Revoke(ctx context.Context, refreshToken string) error
}

// Handler exposes the badge login endpoints.
type Handler struct {
	svc    *Service
	tokens Refresher
	// generic collapses not-recognized, PIN-not-set, wrong-PIN and role
	// failures into one 401 response.
	generic bool
}

// NewHandler creates the auth handler.
func NewHandler(svc *Service, tokens Refresher, genericErrors bool) *Handler {
	return &Handler{svc: svc, tokens: tokens, generic: genericErrors}
}

type nfcLoginRequest struct {
	NFCID string `json:"nfcId" validate:"max=512"`
	PIN   string `json:"pin"`
	Email string `json:"email" validate:"omitempty,email,max=254"`
}

// NFCLogin authenticates a staff badge and PIN and returns a session.
func (h *Handler) NFCLogin(c *fiber.Ctx) error {
	var req nfcLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := pin.ValidateFormat(req.PIN); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	result, sess, err := h.svc.Login(c.UserContext(), Credentials{NFCID: req.NFCID, PIN: req.PIN, Email: req.Email})
	if err != nil {
		var issueErr *session.IssuanceError
		switch {
		case errors.Is(err, pin.ErrMalformedInput):
			return errorJSON(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrProfileNotFound):
			if h.generic {
				return errorJSON(c, http.StatusUnauthorized, genericLoginError)
			}
			return errorJSON(c, http.StatusNotFound, "Profile not found")
		case errors.As(err, &issueErr):
			if issueErr.Phase == session.PhaseLinkGeneration {
				return errorJSON(c, http.StatusInternalServerError, "Failed to generate session")
			}
			return errorJSON(c, http.StatusInternalServerError, "Failed to create session")
		default:
			return fiber.NewError(http.StatusInternalServerError, "internal server error")
		}
	}

	if _, ok := result.(Verified); !ok && h.generic {
		return errorJSON(c, http.StatusUnauthorized, genericLoginError)
	}

	switch r := result.(type) {
	case Verified:
		return c.Status(http.StatusOK).JSON(fiber.Map{"success": true, "session": sess})
	case NotRecognized:
		return c.Status(http.StatusOK).JSON(fiber.Map{"error": "NFC card not recognized", "found": false, "reason": "not_recognized"})
	case RoleNotAuthorized:
		return errorJSON(c, http.StatusForbidden, "NFC login is only available for staff accounts")
	case PinNotConfigured:
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "PIN not set", "needsSetup": true, "email": r.Email, "profileId": r.IdentityID})
	case PinRejected:
		return errorJSON(c, http.StatusUnauthorized, "Incorrect PIN")
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal server error")
	}
}

type pinStatusRequest struct {
	NFCID string `json:"nfcId" validate:"max=512"`
	Email string `json:"email" validate:"omitempty,email,max=254"`
}

// PinStatus reports whether the badge holder has a PIN configured.
func (h *Handler) PinStatus(c *fiber.Ctx) error {
	var req pinStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := validation.Struct(req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	status, err := h.svc.Status(c.UserContext(), req.NFCID, req.Email)
	if err != nil {
		switch {
		case errors.Is(err, ErrLookupRequired):
			return errorJSON(c, http.StatusBadRequest, "Either nfcId or email is required")
		case errors.Is(err, ErrProfileNotFound):
			return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "Profile not found", "found": false})
		default:
			return fiber.NewError(http.StatusInternalServerError, "internal server error")
		}
	}
	if !status.Found {
		return c.Status(http.StatusOK).JSON(fiber.Map{"found": false, "reason": "not_recognized"})
	}
	if !status.IsStaff {
		return c.Status(http.StatusForbidden).JSON(fiber.Map{
			"error":   "NFC login is only available for staff accounts",
			"found":   true,
			"isStaff": false,
			"role":    status.Role,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"found":     true,
		"isStaff":   true,
		"hasPinSet": status.HasPinSet,
		"email":     status.Email,
		"name":      status.Name,
		"role":      status.Role,
		"profileId": status.ProfileID,
	})
}

type setPinRequest struct {
	PIN       string `json:"pin"`
	NFCID     string `json:"nfcId" validate:"max=512"`
	Email     string `json:"email" validate:"omitempty,email,max=254"`
	ProfileID string `json:"profileId" validate:"omitempty,uuid"`
}

// SetPIN stores a new kiosk PIN. Requires an authenticated caller.
func (h *Handler) SetPIN(c *fiber.Ctx) error {
	var req setPinRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := pin.ValidateFormat(req.PIN); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	actor := Actor{}
	actor.ID, _ = c.Locals("user_id").(string)
	actor.Role, _ = c.Locals("role").(string)
	if actor.ID == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
	}

	_, err := h.svc.SetPIN(c.UserContext(), actor, PinChange{PIN: req.PIN, ProfileID: req.ProfileID, Email: req.Email, NFCID: req.NFCID})
	if err != nil {
		switch {
		case errors.Is(err, ErrLookupRequired):
			return errorJSON(c, http.StatusBadRequest, "Either email, nfcId, or profileId is required")
		case errors.Is(err, ErrNotRecognized):
			return errorJSON(c, http.StatusNotFound, "NFC card not recognized")
		case errors.Is(err, ErrProfileNotFound):
			return errorJSON(c, http.StatusNotFound, "Profile not found")
		case errors.Is(err, ErrRoleNotAuthorized):
			return errorJSON(c, http.StatusForbidden, "NFC PIN is only available for staff accounts")
		case errors.Is(err, ErrForbidden):
			return errorJSON(c, http.StatusForbidden, "Not allowed to set PIN for this profile")
		default:
			return errorJSON(c, http.StatusInternalServerError, "Failed to set PIN")
		}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"success": true, "message": "PIN set successfully"})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"notblank"`
}

// Refresh rotates a refresh token and returns a new session.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := validation.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.tokens.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, "invalid refresh token")
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"success": true, "session": sess})
}

// Logout revokes a refresh token.
func (h *Handler) Logout(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := validation.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.tokens.Revoke(c.UserContext(), req.RefreshToken); err != nil {
		if errors.Is(err, session.ErrTokenInvalid) || errors.Is(err, session.ErrTokenExpired) {
			return fiber.NewError(http.StatusBadRequest, "invalid refresh token")
		}
		return fiber.NewError(http.StatusInternalServerError, "internal server error")
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "logged_out"})
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
