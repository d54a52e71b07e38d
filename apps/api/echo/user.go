package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/user"
)

type (
	userApi struct {
		svc *user.Service
	}

	ActivateRequest struct {
		UID             string `json:"uid"`
		Token           string `json:"token"`
		Password        string `json:"password"`
		PasswordConfirm string `json:"password_confirm"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func registerUserAPI(g *echo.Group, svc *user.Service) {
	api := userApi{svc: svc}

	ug := g.Group("/users")
	// TODO: rate limit `/activate`
	ug.POST("/activate", api.activate)
}

// activate sets the password of an account created on approval, using the emailed uid & token.
func (api *userApi) activate(ctx echo.Context) error {
	var data ActivateRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ActivateRequest")
	}

	_, err := api.svc.Activate(ctx.Request().Context(), data.UID, data.Token, user.ResetUserPassword{
		Password:        data.Password,
		PasswordConfirm: data.PasswordConfirm,
	})
	if err != nil {
		return errors.Wrap(err, "activating account")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Your account is active, you can now log in."})
}
