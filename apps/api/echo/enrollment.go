package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/enrollment"
)

type (
	enrollmentApi struct {
		svc *enrollment.Service
	}

	groupActiveRequest struct {
		Active bool `json:"active"`
	}

	decisionRequest struct {
		Outcome enrollment.State `json:"outcome"`
	}

	teacherGroupRequest struct {
		GroupID int64 `json:"group_id"`
	}
)

func registerEnrollmentAPI(g *echo.Group, svc *enrollment.Service) {
	api := enrollmentApi{svc: svc}

	g.POST("/guardians", api.registerGuardian)

	g.GET("/teachers", api.queryTeachers)
	g.POST("/teachers", api.registerTeacher)
	g.PUT("/teachers/:id/group", api.assignTeacher)
	g.DELETE("/teachers/:id/group", api.unassignTeacher)

	g.GET("/grades", api.queryGrades)
	g.POST("/grades", api.createGrade)
	g.GET("/grades/:id/groups", api.queryGroups)

	g.GET("/groups/:id/roster", api.roster)
	g.PUT("/groups/:id/active", api.setGroupActive)

	pg := g.Group("/preregistrations")
	pg.POST("", api.submit)
	pg.GET("/pending", api.queryPending)
	pg.GET("/:id", api.retrievePreRegistration)
	pg.POST("/:id/decision", api.decide)
}

func idParam(ctx echo.Context) (int64, error) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidID
	}
	return id, nil
}

// Handlers

func (api *enrollmentApi) registerGuardian(ctx echo.Context) error {
	var data enrollment.NewGuardian
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGuardian")
	}
	g, err := api.svc.RegisterGuardian(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering guardian")
	}
	return ctx.JSON(http.StatusCreated, g)
}

func (api *enrollmentApi) registerTeacher(ctx echo.Context) error {
	var data enrollment.NewTeacher
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTeacher")
	}
	teacher, err := api.svc.RegisterTeacher(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering teacher")
	}
	return ctx.JSON(http.StatusCreated, teacher)
}

func (api *enrollmentApi) queryTeachers(ctx echo.Context) error {
	teachers, err := api.svc.ListTeachers(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying teachers")
	}
	return ctx.JSON(http.StatusOK, teachers)
}

func (api *enrollmentApi) assignTeacher(ctx echo.Context) error {
	teacherID, err := idParam(ctx)
	if err != nil {
		return err
	}
	var data teacherGroupRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to teacherGroupRequest")
	}
	if data.GroupID <= 0 {
		return errInvalidID
	}
	if err = api.svc.AssignTeacher(ctx.Request().Context(), teacherID, data.GroupID); err != nil {
		return errors.Wrapf(err, "assigning teacher %d", teacherID)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *enrollmentApi) unassignTeacher(ctx echo.Context) error {
	teacherID, err := idParam(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.UnassignTeacher(ctx.Request().Context(), teacherID); err != nil {
		return errors.Wrapf(err, "unassigning teacher %d", teacherID)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *enrollmentApi) queryGrades(ctx echo.Context) error {
	grades, err := api.svc.ListGrades(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying grades")
	}
	return ctx.JSON(http.StatusOK, grades)
}

func (api *enrollmentApi) createGrade(ctx echo.Context) error {
	var data enrollment.NewGrade
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGrade")
	}
	grade, err := api.svc.CreateGrade(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating grade")
	}
	return ctx.JSON(http.StatusCreated, grade)
}

func (api *enrollmentApi) queryGroups(ctx echo.Context) error {
	gradeID, err := idParam(ctx)
	if err != nil {
		return err
	}
	groups, err := api.svc.ListGroupsForGrade(ctx.Request().Context(), gradeID)
	if err != nil {
		return errors.Wrapf(err, "querying groups of grade %d", gradeID)
	}
	return ctx.JSON(http.StatusOK, groups)
}

func (api *enrollmentApi) roster(ctx echo.Context) error {
	groupID, err := idParam(ctx)
	if err != nil {
		return err
	}
	students, err := api.svc.GetRosterForGroup(ctx.Request().Context(), groupID)
	if err != nil {
		return errors.Wrapf(err, "getting roster of group %d", groupID)
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *enrollmentApi) setGroupActive(ctx echo.Context) error {
	groupID, err := idParam(ctx)
	if err != nil {
		return err
	}
	var data groupActiveRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to groupActiveRequest")
	}
	group, err := api.svc.SetGroupActive(ctx.Request().Context(), groupID, data.Active)
	if err != nil {
		return errors.Wrapf(err, "updating group %d", groupID)
	}
	return ctx.JSON(http.StatusOK, group)
}

func (api *enrollmentApi) submit(ctx echo.Context) error {
	var data enrollment.NewPreRegistration
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPreRegistration")
	}
	preReg, err := api.svc.Submit(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "submitting pre-registration")
	}
	return ctx.JSON(http.StatusCreated, preReg)
}

func (api *enrollmentApi) queryPending(ctx echo.Context) error {
	preRegs, err := api.svc.ListPendingPreRegistrations(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying pending pre-registrations")
	}
	return ctx.JSON(http.StatusOK, preRegs)
}

func (api *enrollmentApi) retrievePreRegistration(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	preReg, err := api.svc.GetPreRegistration(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrapf(err, "getting pre-registration %d", id)
	}
	return ctx.JSON(http.StatusOK, preReg)
}

func (api *enrollmentApi) decide(ctx echo.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	var data decisionRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to decisionRequest")
	}
	if !data.Outcome.IsTerminal() {
		return errInvalidOutcome
	}
	preReg, err := api.svc.Decide(ctx.Request().Context(), id, data.Outcome)
	if err != nil {
		return errors.Wrapf(err, "deciding pre-registration %d", id)
	}
	return ctx.JSON(http.StatusOK, preReg)
}
