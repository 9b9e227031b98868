package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/scholargraph/internal/server/middleware"
	"github.com/OFFIS-RIT/scholargraph/pkg/common"

	"github.com/labstack/echo/v4"
)

// QueryHandler answers a question over the caller's papers and, depending on
// scope, the public corpus. Retrieval failures degrade inside the answerer,
// so this handler only rejects malformed input.
func QueryHandler(c echo.Context) error {
	type queryBody struct {
		Question  string `json:"question" validate:"required"`
		Scope     string `json:"scope" validate:"omitempty,oneof=personal shared public cross_domain"`
		QueryType string `json:"query_type"`
	}

	data := new(queryBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	scope := common.QueryScope(data.Scope)
	if scope == "" {
		scope = common.ScopePersonal
	}
	queryType := common.QueryType(data.QueryType)
	if queryType == "" {
		queryType = common.QueryTypeFactual
	}

	app := c.(*middleware.AppContext).App
	resp := app.Answerer.Answer(c.Request().Context(), common.Query{
		Text:   data.Question,
		UserID: user.UserID,
		Scope:  scope,
		Type:   queryType,
	})
	return c.JSON(http.StatusOK, resp)
}
