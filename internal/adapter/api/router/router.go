package router

import (
	"github.com/labstack/echo/v4"

	"tradelink/internal/adapter/api/handler"
	"tradelink/internal/adapter/api/middleware"
)

func Setup(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware) {
	SetupHealthRouter(e)
	SetupChatRouter(e, chatHandler, authMiddleware)
}
