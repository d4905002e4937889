package http

import (
	"net/http"

	"coursehub/internal/core/domain"
	"coursehub/internal/core/ports"
	"coursehub/internal/infrastructure/middleware"
	"coursehub/pkg/errors"
	"coursehub/pkg/utils"
	"coursehub/pkg/validation"

	"github.com/gin-gonic/gin"
)

type CourseHandler struct {
	service ports.MembershipService
}

func NewCourseHandler(service ports.MembershipService) *CourseHandler {
	return &CourseHandler{service: service}
}

var _ ports.CourseHTTPHandler = (*CourseHandler)(nil)

// SetupRoutes registers the course API on api. Callers attach authentication
// to the group beforehand.
func (h *CourseHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/courses", h.CreateCourse)
	api.GET("/courses", h.ListCourses)
	api.GET("/courses/:id", h.GetCourse)
	api.PUT("/courses/:id", h.UpdateCourse)
	api.DELETE("/courses/:id", h.DeleteCourse)

	api.GET("/courses/:id/members", h.GetMembers)
	api.POST("/courses/:id/members", h.AddMember)
	api.POST("/courses/:id/leave", h.LeaveCourse)
	api.GET("/courses/:id/events", h.ListEvents)

	api.DELETE("/memberships/:id", h.RemoveMember)
}

type CourseRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type AddMemberRequest struct {
	UserID string `json:"user_id"`
}

func (h *CourseHandler) CreateCourse(c *gin.Context) {
	draft, ok := bindCourseDraft(c)
	if !ok {
		return
	}

	course, err := h.service.CreateCourse(c.Request.Context(), middleware.ActorFromContext(c), draft)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, course)
}

func (h *CourseHandler) ListCourses(c *gin.Context) {
	courses, err := h.service.ListCourses(c.Request.Context(), middleware.ActorFromContext(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": courses})
}

func (h *CourseHandler) GetCourse(c *gin.Context) {
	courseID, ok := courseParam(c)
	if !ok {
		return
	}

	view, err := h.service.GetCourse(c.Request.Context(), middleware.ActorFromContext(c), courseID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *CourseHandler) UpdateCourse(c *gin.Context) {
	courseID, ok := courseParam(c)
	if !ok {
		return
	}
	draft, ok := bindCourseDraft(c)
	if !ok {
		return
	}

	course, err := h.service.UpdateCourse(c.Request.Context(), middleware.ActorFromContext(c), courseID, draft)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, course)
}

func (h *CourseHandler) DeleteCourse(c *gin.Context) {
	courseID, ok := courseParam(c)
	if !ok {
		return
	}

	if err := h.service.DeleteCourse(c.Request.Context(), middleware.ActorFromContext(c), courseID); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CourseHandler) GetMembers(c *gin.Context) {
	courseID, ok := courseParam(c)
	if !ok {
		return
	}

	members, err := h.service.GetMembers(c.Request.Context(), middleware.ActorFromContext(c), courseID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (h *CourseHandler) AddMember(c *gin.Context) {
	courseID, ok := courseParam(c)
	if !ok {
		return
	}

	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateID(req.UserID, "user id"); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	membership, err := h.service.AddMember(c.Request.Context(), middleware.ActorFromContext(c), courseID, domain.UserID(req.UserID))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, membership)
}

func (h *CourseHandler) RemoveMember(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateID(id, "membership id"); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	removed, err := h.service.RemoveMember(c.Request.Context(), middleware.ActorFromContext(c), domain.MembershipID(id))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, removed)
}

func (h *CourseHandler) LeaveCourse(c *gin.Context) {
	courseID, ok := courseParam(c)
	if !ok {
		return
	}

	if err := h.service.LeaveCourse(c.Request.Context(), middleware.ActorFromContext(c), courseID); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CourseHandler) ListEvents(c *gin.Context) {
	courseID, ok := courseParam(c)
	if !ok {
		return
	}
	limit, err := validation.ParseLimit(c.Query("limit"))
	if err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	events, err := h.service.ListEvents(c.Request.Context(), middleware.ActorFromContext(c), courseID, limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func courseParam(c *gin.Context) (domain.CourseID, bool) {
	id := c.Param("id")
	if err := validation.ValidateID(id, "course id"); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return "", false
	}
	return domain.CourseID(id), true
}

// bindCourseDraft leaves blank-name rejection to the service so that the
// error kind is the same for every transport.
func bindCourseDraft(c *gin.Context) (domain.CourseDraft, bool) {
	var req CourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return domain.CourseDraft{}, false
	}
	req.Name = utils.SanitizeString(req.Name)
	if !utils.IsEmpty(req.Name) {
		if err := validation.ValidateCourseName(req.Name); err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return domain.CourseDraft{}, false
		}
	}
	if req.Description != nil {
		*req.Description = utils.SanitizeString(*req.Description)
		if err := validation.ValidateDescription(*req.Description); err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return domain.CourseDraft{}, false
		}
	}
	return domain.CourseDraft{Name: req.Name, Description: req.Description}, true
}
