// docqa/routes.go

package main

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// registerRoutes sets up all the routes for the application.
func registerRoutes(e *echo.Echo, app *App) {
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.POST, echo.PATCH, echo.DELETE, echo.OPTIONS},
	}))

	e.GET("/", app.rootHandler)
	e.GET("/health", app.healthHandler)

	e.POST("/chats", app.createChatHandler)
	e.GET("/chats", app.listChatsHandler)
	e.GET("/chats/:id", app.getChatHandler)
	e.DELETE("/chats/:id", app.deleteChatHandler)
	e.GET("/chats/:id/messages", app.listMessagesHandler)

	e.POST("/documents", app.uploadDocumentHandler)
	e.GET("/documents", app.listDocumentsHandler)
	e.GET("/documents/:id", app.getDocumentHandler)
	e.POST("/documents/:id/reprocess", app.reprocessDocumentHandler)
	e.PATCH("/documents/:id/preferences", app.updateDocumentPreferencesHandler)
	e.DELETE("/documents/:id", app.deleteDocumentHandler)
	e.GET("/documents/:id/processing-stream", app.processingStreamHandler)

	e.POST("/query/stream", app.queryStreamHandler)

	e.POST("/zotero/sync", app.zoteroSyncHandler)
	e.POST("/zotero/sync/new", app.zoteroSyncNewHandler)
	e.GET("/zotero/status", app.zoteroStatusHandler)
}
