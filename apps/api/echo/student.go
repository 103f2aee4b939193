package echoapi

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/student"
	"github.com/daniel-alt-pages/ietac-sub000/core/user"
	exportsvc "github.com/daniel-alt-pages/ietac-sub000/services/export"
)

type studentApi struct {
	svc      *student.Service
	validate *validator.Validate
}

func registerStudentAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := studentApi{
		svc:      deps.StudentSvc,
		validate: deps.Validate,
	}

	sg := g.Group("/students", jwt, adminMiddleware())
	write := adminMiddleware(user.RoleAdminOwner, user.RoleAdminRegistrar)

	sg.GET("", api.query)
	sg.POST("", api.create, write)
	sg.GET("/export", api.export)

	sg.GET("/:id", api.retrieve)
	sg.PUT("/:id", api.update, write)
	sg.POST("/:id/delete-token", api.issueDeletionToken, write)
	sg.DELETE("/:id", api.destroy, write)
	sg.POST("/:id/restore", api.restore, write)
	sg.POST("/:id/rekey-token", api.issueRekeyToken, write)
	sg.POST("/:id/rekey", api.rekey, write)
	sg.POST("/:id/verification", api.recordVerification, write)
}

type (
	// studentResponse exposes the status computed from the stored signals next to the record.
	studentResponse struct {
		student.Student
		ResolvedStatus student.Status `json:"resolvedStatus"`
	}

	TokenRequest struct {
		Token string `json:"token" validate:"required"`
	}

	RekeyTokenRequest struct {
		NewID string `json:"newId" validate:"required,max=32,studentid"`
	}
)

func newStudentResponse(s student.Student) studentResponse {
	return studentResponse{Student: s, ResolvedStatus: student.ResolveStatus(s)}
}

func newStudentResponses(students []student.Student) []studentResponse {
	resp := make([]studentResponse, 0, len(students))
	for _, s := range students {
		resp = append(resp, newStudentResponse(s))
	}
	return resp
}

// bindQueryFilter reads the roster filters from the query string.
func bindQueryFilter(ctx echo.Context) (student.QueryFilter, error) {
	filter := student.QueryFilter{
		Search:      ctx.QueryParam("search"),
		Institution: student.Institution(ctx.QueryParam("institution")),
		Status:      student.Status(ctx.QueryParam("status")),
	}
	if val := ctx.QueryParam("deleted"); val != "" {
		deleted, err := strconv.ParseBool(val)
		if err != nil {
			return filter, core.NewValidationError(err, core.FieldError{Field: "deleted", Error: "must be a boolean"})
		}
		filter.Deleted = &deleted
	}
	filter.Clean()
	return filter, nil
}

func (api *studentApi) query(ctx echo.Context) error {
	filter, err := bindQueryFilter(ctx)
	if err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	students, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	return ctx.JSON(http.StatusOK, newStudentResponses(students))
}

func (api *studentApi) export(ctx echo.Context) error {
	format := ctx.QueryParam("format")
	if format == "" {
		format = exportsvc.FormatXLSX
	}
	if !isExportFormat(format) {
		return core.NewValidationError(exportsvc.ErrUnknownFormat, core.FieldError{Field: "format", Error: exportsvc.ErrUnknownFormat.Error()})
	}

	filter, err := bindQueryFilter(ctx)
	if err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	students, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}

	var buf bytes.Buffer
	if err := exportsvc.Write(&buf, format, students); err != nil {
		return errors.Wrap(err, "exporting students")
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition,
		`attachment; filename="`+exportsvc.Filename(format, core.NowFunc())+`"`)
	return ctx.Blob(http.StatusOK, exportsvc.ContentType(format), buf.Bytes())
}

func isExportFormat(format string) bool {
	for _, f := range exportsvc.Formats() {
		if f == format {
			return true
		}
	}
	return false
}

func (api *studentApi) create(ctx echo.Context) error {
	var data student.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	s, err := api.svc.Create(ctx.Request().Context(), data, actor)
	if err != nil {
		return errors.Wrap(err, "creating student")
	}
	return ctx.JSON(http.StatusCreated, newStudentResponse(s))
}

func (api *studentApi) retrieve(ctx echo.Context) error {
	s, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting student")
	}
	return ctx.JSON(http.StatusOK, newStudentResponse(s))
}

func (api *studentApi) update(ctx echo.Context) error {
	var data student.UpdateStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStudent")
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	s, err := api.svc.Update(ctx.Request().Context(), ctx.Param("id"), data, actor)
	if err != nil {
		return errors.Wrap(err, "updating student")
	}
	return ctx.JSON(http.StatusOK, newStudentResponse(s))
}

func (api *studentApi) issueDeletionToken(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	conf, err := api.svc.IssueDeletionToken(ctx.Request().Context(), ctx.Param("id"), actor)
	if err != nil {
		return errors.Wrap(err, "issuing deletion token")
	}
	return ctx.JSON(http.StatusOK, conf)
}

func (api *studentApi) destroy(ctx echo.Context) error {
	var data TokenRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TokenRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	s, err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id"), data.Token, actor)
	if err != nil {
		return errors.Wrap(err, "deleting student")
	}
	return ctx.JSON(http.StatusOK, newStudentResponse(s))
}

func (api *studentApi) restore(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	s, err := api.svc.Restore(ctx.Request().Context(), ctx.Param("id"), actor)
	if err != nil {
		return errors.Wrap(err, "restoring student")
	}
	return ctx.JSON(http.StatusOK, newStudentResponse(s))
}

func (api *studentApi) issueRekeyToken(ctx echo.Context) error {
	var data RekeyTokenRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RekeyTokenRequest")
	}
	data.NewID = core.CleanString(data.NewID)
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	conf, err := api.svc.IssueRekeyToken(ctx.Request().Context(), ctx.Param("id"), data.NewID, actor)
	if err != nil {
		return errors.Wrap(err, "issuing rekey token")
	}
	return ctx.JSON(http.StatusOK, conf)
}

// rekey moves the record to data.ID, applying the other fields of data on the way.
func (api *studentApi) rekey(ctx echo.Context) error {
	var data student.UpdateStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStudent")
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}

	s, err := api.svc.Rekey(ctx.Request().Context(), ctx.Param("id"), data.ID, data, data.Token, actor)
	if err != nil {
		return errors.Wrap(err, "rekeying student")
	}
	return ctx.JSON(http.StatusOK, newStudentResponse(s))
}

func (api *studentApi) recordVerification(ctx echo.Context) error {
	var data student.Verification
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Verification")
	}
	s, err := api.svc.RecordVerification(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "recording verification")
	}
	return ctx.JSON(http.StatusOK, newStudentResponse(s))
}
