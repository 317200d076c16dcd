// Package docs registers the OpenAPI document served by the Swagger UI
// route. Regenerate with `swag init -g cmd/server/main.go` after changing
// handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "ApiKeyAuth": {
            "type": "apiKey",
            "name": "X-API-Key",
            "in": "header"
        }
    },
    "paths": {
        "/upload": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "tags": ["Intake"],
                "summary": "Submit a document for analysis",
                "operationId": "uploadDocument",
                "responses": {
                    "202": {"description": "Accepted"},
                    "400": {"description": "Validation failure"},
                    "401": {"description": "Missing or invalid API key"},
                    "413": {"description": "Payload too large"},
                    "429": {"description": "Quota exceeded"}
                }
            }
        },
        "/intake/email": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "tags": ["Intake"],
                "summary": "Ingest an inbound email",
                "operationId": "intakeEmail",
                "responses": {
                    "202": {"description": "Accepted"},
                    "400": {"description": "Unparseable message"}
                }
            }
        },
        "/chat/webhook": {
            "post": {
                "tags": ["Intake"],
                "summary": "Chat slash-command webhook",
                "operationId": "chatWebhook",
                "responses": {
                    "200": {"description": "Command reply"},
                    "401": {"description": "Bad signature or stale timestamp"}
                }
            }
        },
        "/status/{id}": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "tags": ["Status"],
                "summary": "Get request status",
                "operationId": "getStatus",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Status"},
                    "404": {"description": "Unknown request"}
                }
            }
        },
        "/history": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "tags": ["Status"],
                "summary": "List recent requests",
                "operationId": "listHistory",
                "responses": {
                    "200": {"description": "History page"},
                    "400": {"description": "Invalid filter"}
                }
            }
        },
        "/formats": {
            "get": {
                "tags": ["Status"],
                "summary": "List supported formats",
                "operationId": "listFormats",
                "responses": {
                    "200": {"description": "Capability document"}
                }
            }
        },
        "/health": {
            "get": {
                "tags": ["Status"],
                "summary": "Liveness probe",
                "operationId": "health",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Document Intake & Analysis API",
	Description:      "Asynchronous document analysis: upload or email documents, poll status, fetch rendered requirement reports.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
