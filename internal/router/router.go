package router

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpdesk-service/api"
	"github.com/psds-microservice/helpdesk-service/internal/handler"
	"github.com/psds-microservice/helpy/paths"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type Handlers struct {
	Health *handler.HealthHandler
	Ticket *handler.TicketHandler
	Lock   *handler.LockHandler
}

type Options struct {
	AllowedOrigins []string
	// Secrets гейтят staff/admin маршруты до разбора тела запроса.
	Secrets handler.Secrets
	Log     *slog.Logger
}

func New(h Handlers, opts Options) *gin.Engine {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(log))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     opts.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Content-Type", "Authorization", handler.HeaderAdminKey, handler.HeaderStaffKey, handler.HeaderUsername, handler.HeaderPassword},
			ExposeHeaders:    []string{HeaderRequestID},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET(paths.PathHealth, h.Health.Health)
	r.GET(paths.PathReady, h.Health.Ready)
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(paths.PathSwagger+"/openapi.json"))(c)
	})

	staffOnly := handler.RequireStaff(opts.Secrets, log)
	adminOnly := handler.RequireAdmin(opts.Secrets, log)

	// Статические пути объявлены рядом с /:id, gin отдаёт им приоритет.
	// get и reply открыты владельцу тикета, роль проверяет сервис.
	tickets := r.Group("/tickets")
	{
		tickets.POST("/create", h.Ticket.Create)
		tickets.GET("/open", staffOnly, h.Ticket.ListOpen)
		tickets.GET("/closed", staffOnly, h.Ticket.ListClosed)
		tickets.GET("/lock-status", h.Lock.Get)
		tickets.POST("/lock-status/update", adminOnly, h.Lock.Update)

		tickets.GET("/:id", h.Ticket.Get)
		tickets.POST("/:id/reply", h.Ticket.Reply)
		tickets.POST("/:id/note", staffOnly, h.Ticket.AddNote)
		tickets.POST("/:id/assign", adminOnly, h.Ticket.Assign)
		tickets.POST("/:id/close", adminOnly, h.Ticket.Close)
		tickets.POST("/:id/reopen", adminOnly, h.Ticket.Reopen)
	}

	return r
}
