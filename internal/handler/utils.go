package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// parseBoolQuery reads a boolean query parameter, falling back to def when absent or invalid
func parseBoolQuery(c echo.Context, name string, def bool) bool {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
