package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers the OpenAPI description of the ops API.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>rolesync ops API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "rolesync ops", "version": "v1" },
  "components": { "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer", "bearerFormat": "JWT" } } },
  "security": [ { "bearer": [] } ],
  "paths": {
    "/health": { "get": { "summary": "Liveness check", "security": [], "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "security": [], "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "security": [], "responses": { "200": { "description": "text exposition" } } } },
    "/api/v1/profiles": { "get": { "summary": "List verified profiles", "responses": { "200": { "description": "profiles" } } } },
    "/api/v1/profiles/{id}": {
      "get": { "summary": "Get one profile", "responses": { "200": { "description": "profile" }, "404": { "description": "not verified" } } },
      "delete": { "summary": "Unverify a user and revert the verified role", "responses": { "200": { "description": "removed" }, "404": { "description": "not verified" } } }
    },
    "/api/v1/sync": {
      "get": { "summary": "Status of the last manual pass", "responses": { "200": { "description": "summary" } } },
      "post": { "summary": "Start a full reconciliation pass", "responses": { "202": { "description": "started" }, "409": { "description": "already running" } } }
    },
    "/api/v1/sync/{id}": { "post": { "summary": "Reconcile one verified member", "responses": { "200": { "description": "outcome" }, "404": { "description": "not verified or not a member" }, "502": { "description": "profile lookup failed" }, "503": { "description": "guild unavailable" } } } },
    "/api/v1/policy/reload": { "post": { "summary": "Reload the role policy file", "responses": { "200": { "description": "reloaded" }, "422": { "description": "malformed policy, previous table kept" } } } },
    "/api/v1/sessions": { "get": { "summary": "List pending verification sessions", "responses": { "200": { "description": "sessions" } } } },
    "/api/v1/snapshots": { "post": { "summary": "Upload a profile snapshot now", "responses": { "201": { "description": "object key" }, "503": { "description": "object storage not configured" } } } },
    "/api/v1/tokens/revoke": { "post": { "summary": "Revoke the calling token", "responses": { "200": { "description": "revoked" } } } }
  }
}`
