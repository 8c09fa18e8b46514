package router

import (
	"rosterchat/internal/adapter/api/handler"

	"github.com/labstack/echo/v4"
)

func SetupDevRouter(e *echo.Echo, environment string) {
	devTokenHandler := handler.GetDevTokenHandler()
	if environment != "development" || devTokenHandler == nil {
		return
	}

	e.GET("/_dev/token", devTokenHandler.GenerateUserToken)
}
