package handler

import (
	"context"

	"github.com/labstack/echo/v4"

	"rosterchat/internal/domain/entity"
	"rosterchat/internal/domain/repository"
	"rosterchat/pkg/errors"
	"rosterchat/pkg/response"
)

// TokenIssuer mints tokens for local testing.
type TokenIssuer interface {
	GenerateToken(ctx context.Context, uid string) (string, error)
}

type DevTokenHandler struct {
	issuer    TokenIssuer
	directory repository.DirectoryRepository
}

var devTokenHandler *DevTokenHandler

func NewDevTokenHandler(issuer TokenIssuer, directory repository.DirectoryRepository) *DevTokenHandler {
	return &DevTokenHandler{
		issuer:    issuer,
		directory: directory,
	}
}

func SetupDevTokenHandler(issuer TokenIssuer, directory repository.DirectoryRepository) {
	devTokenHandler = NewDevTokenHandler(issuer, directory)
}

func GetDevTokenHandler() *DevTokenHandler {
	return devTokenHandler
}

// GenerateUserToken issues a token for the user named by ?uid= or ?email=.
func (h *DevTokenHandler) GenerateUserToken(c echo.Context) error {
	ctx := c.Request().Context()

	uid, email := c.QueryParam("uid"), c.QueryParam("email")
	if uid == "" && email == "" {
		return response.Error(c, errors.BadRequest("uid or email is required", nil))
	}

	var (
		user *entity.User
		err  error
	)
	if email != "" {
		user, err = h.directory.FindByEmail(ctx, email)
	} else {
		user, err = h.directory.FindByID(ctx, uid)
	}
	if err != nil {
		return response.Error(c, err)
	}

	token, err := h.issuer.GenerateToken(ctx, user.ID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}
