package handlers

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func jsonMessage(c echo.Context, status int, message string) error {
	body, err := sonic.ConfigFastest.Marshal(messageResponse{Message: message})
	if err != nil {
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.JSONBlob(status, body)
}

func jsonError(c echo.Context, status int, message string) error {
	body, err := sonic.ConfigFastest.Marshal(errorResponse{Error: message})
	if err != nil {
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.JSONBlob(status, body)
}
