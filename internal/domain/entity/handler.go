package entity

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/orchestrall/orchestrall/internal/platform/auth"
	"github.com/orchestrall/orchestrall/pkg/apperr"
	"github.com/orchestrall/orchestrall/pkg/pagination"
)

// Handler exposes the generic CRUD engine over HTTP.
type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes mounts the entity routes on the given group. Mutating
// routes additionally pass the write gate. The static /entities route is
// registered before the :entity wildcard so echo matches it first.
func (h *Handler) RegisterRoutes(g *echo.Group, write echo.MiddlewareFunc) {
	g.GET("/entities", h.HandleEntities)
	g.GET("/:entity/schema", h.HandleSchema)
	g.GET("/:entity", h.HandleList)
	g.GET("/:entity/:id", h.HandleGet)
	g.POST("/:entity", h.HandleCreate, write)
	g.PUT("/:entity/:id", h.HandleUpdate, write)
	g.DELETE("/:entity/:id", h.HandleDelete, write)
	g.POST("/:entity/bulk-create", h.HandleBulkCreate, write)
	g.POST("/:entity/bulk-update", h.HandleBulkUpdate, write)
	g.POST("/:entity/bulk-delete", h.HandleBulkDelete, write)
}

// errorBody is the JSON error envelope for every entity endpoint.
type errorBody struct {
	Error  string              `json:"error"`
	Kind   string              `json:"kind"`
	Fields []apperr.FieldError `json:"fields,omitempty"`
}

func writeError(c echo.Context, err error) error {
	body := errorBody{
		Error: err.Error(),
		Kind:  apperr.KindOf(err).String(),
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		body.Fields = appErr.Fields
	}
	return c.JSON(apperr.HTTPStatus(err), body)
}

// HandleEntities handles GET /entities.
func (h *Handler) HandleEntities(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"entities": h.engine.Entities()})
}

// HandleSchema handles GET /:entity/schema.
func (h *Handler) HandleSchema(c echo.Context) error {
	d, err := h.engine.Schema(c.Param("entity"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// HandleList handles GET /:entity.
func (h *Handler) HandleList(c echo.Context) error {
	name := c.Param("entity")
	d, err := h.engine.Schema(name)
	if err != nil {
		return writeError(c, err)
	}

	q, err := ParseQuery(c.QueryParams(), d, pagination.FromContext(c))
	if err != nil {
		return writeError(c, err)
	}

	records, total, err := h.engine.List(c.Request().Context(), auth.OrgFromContext(c), name, q)
	if err != nil {
		return writeError(c, err)
	}
	if records == nil {
		records = []Record{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(records, total, q.Page))
}

// HandleGet handles GET /:entity/:id.
func (h *Handler) HandleGet(c echo.Context) error {
	rec, err := h.engine.Get(c.Request().Context(), auth.OrgFromContext(c), c.Param("entity"), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// HandleCreate handles POST /:entity.
func (h *Handler) HandleCreate(c echo.Context) error {
	var input map[string]any
	if err := c.Bind(&input); err != nil {
		return writeError(c, apperr.E(apperr.KindInvalidQuery, "invalid request body"))
	}

	rec, err := h.engine.Create(c.Request().Context(), auth.OrgFromContext(c), c.Param("entity"), input)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, rec)
}

// HandleUpdate handles PUT /:entity/:id.
func (h *Handler) HandleUpdate(c echo.Context) error {
	var input map[string]any
	if err := c.Bind(&input); err != nil {
		return writeError(c, apperr.E(apperr.KindInvalidQuery, "invalid request body"))
	}

	rec, err := h.engine.Update(c.Request().Context(), auth.OrgFromContext(c), c.Param("entity"), c.Param("id"), input)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// HandleDelete handles DELETE /:entity/:id.
func (h *Handler) HandleDelete(c echo.Context) error {
	err := h.engine.Remove(c.Request().Context(), auth.OrgFromContext(c), c.Param("entity"), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleBulkCreate handles POST /:entity/bulk-create.
func (h *Handler) HandleBulkCreate(c echo.Context) error {
	var inputs []map[string]any
	if err := c.Bind(&inputs); err != nil {
		return writeError(c, apperr.E(apperr.KindInvalidQuery, "invalid request body"))
	}

	results, err := h.engine.BulkCreate(c.Request().Context(), auth.OrgFromContext(c), c.Param("entity"), inputs)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

// HandleBulkUpdate handles POST /:entity/bulk-update.
func (h *Handler) HandleBulkUpdate(c echo.Context) error {
	var items []BulkUpdateItem
	if err := c.Bind(&items); err != nil {
		return writeError(c, apperr.E(apperr.KindInvalidQuery, "invalid request body"))
	}

	results, err := h.engine.BulkUpdate(c.Request().Context(), auth.OrgFromContext(c), c.Param("entity"), items)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

// HandleBulkDelete handles POST /:entity/bulk-delete.
func (h *Handler) HandleBulkDelete(c echo.Context) error {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := c.Bind(&body); err != nil {
		return writeError(c, apperr.E(apperr.KindInvalidQuery, "invalid request body"))
	}

	results, err := h.engine.BulkDelete(c.Request().Context(), auth.OrgFromContext(c), c.Param("entity"), body.IDs)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}
