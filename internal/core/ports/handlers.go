package ports

import (
	"github.com/gin-gonic/gin"
)

type CourseHTTPHandler interface {
	CreateCourse(c *gin.Context)
	ListCourses(c *gin.Context)
	GetCourse(c *gin.Context)
	UpdateCourse(c *gin.Context)
	DeleteCourse(c *gin.Context)
	GetMembers(c *gin.Context)
	AddMember(c *gin.Context)
	RemoveMember(c *gin.Context)
	LeaveCourse(c *gin.Context)
	ListEvents(c *gin.Context)
}
