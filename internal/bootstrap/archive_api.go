package bootstrap

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"

	httpapi "archive_server/adapter/in/http"
	"archive_server/infra/middleware"
)

// NewAPI builds the query API server on an already-wired dependency graph.
func NewAPI(deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(deps.Log),
		DisableStartupMessage: true,

		// go-json is substantially faster than encoding/json on the
		// large thread/email payloads.
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,
		BodyLimit:       10 * 1024 * 1024,
	})

	// Order matters: recovery first, request ids before logging.
	app.Use(middleware.Recover(deps.Log))
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger(deps.Log))
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	httpapi.NewHealthHandler(deps.DB, deps.Redis).Register(app)

	api := app.Group("/api")
	emailHandler := httpapi.NewEmailHandler(deps.Store, deps.Aggregate)
	httpapi.NewListHandler(deps.Store, deps.Aggregate).Register(api)
	httpapi.NewThreadHandler(deps.Store, deps.Aggregate, emailHandler).Register(api)
	emailHandler.Register(api)
	httpapi.NewSearchHandler(deps.Search).Register(api)

	return app
}
