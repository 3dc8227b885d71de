// Package swagger registers the epubify OpenAPI document with swag.
// Regenerate with `go generate ./docs`.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "termsOfService": "http://swagger.io/terms/",
        "contact": {
            "name": "API Support",
            "url": "https://github.com/jackzampolin/epubify"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Service banner",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/endpoints.BannerResponse"}}
                }
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Liveness check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/endpoints.HealthResponse"}}
                }
            }
        },
        "/ready": {
            "get": {
                "description": "Reports whether the task store can serve requests",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/endpoints.HealthResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/endpoints.HealthResponse"}}
                }
            }
        },
        "/status": {
            "get": {
                "description": "Task store health and scheduler queue depth",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Server status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/endpoints.StatusResponse"}}
                }
            }
        },
        "/api/convert": {
            "post": {
                "description": "Crawl a documentation page and the pages it links to, and package them as an EPUB",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["tasks"],
                "summary": "Queue a conversion",
                "parameters": [
                    {
                        "description": "Conversion request",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/convert.SubmitRequest"}
                    }
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/endpoints.ConvertResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        },
        "/api/status/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["tasks"],
                "summary": "Get task status",
                "parameters": [
                    {"type": "string", "description": "Task ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/convert.StatusView"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        },
        "/api/download/{id}": {
            "get": {
                "produces": ["application/epub+zip"],
                "tags": ["tasks"],
                "summary": "Download a finished EPUB",
                "parameters": [
                    {"type": "string", "description": "Task ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        },
        "/api/tasks/{id}": {
            "delete": {
                "description": "Remove a task record and its EPUB. Deleting an unknown task succeeds.",
                "produces": ["application/json"],
                "tags": ["tasks"],
                "summary": "Delete a task",
                "parameters": [
                    {"type": "string", "description": "Task ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/endpoints.DeleteTaskResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "convert.SubmitRequest": {
            "type": "object",
            "required": ["url"],
            "properties": {
                "url": {"type": "string"},
                "title": {"type": "string"}
            }
        },
        "convert.StatusView": {
            "type": "object",
            "properties": {
                "task_id": {"type": "string"},
                "status": {"type": "string", "enum": ["pending", "processing", "completed", "failed"]},
                "progress": {"type": "integer"},
                "message": {"type": "string"},
                "download_url": {"type": "string"}
            }
        },
        "endpoints.BannerResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "version": {"type": "string"}
            }
        },
        "endpoints.ConvertResponse": {
            "type": "object",
            "properties": {
                "task_id": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "endpoints.DeleteTaskResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string"}
            }
        },
        "endpoints.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"}
            }
        },
        "endpoints.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "timestamp": {"type": "string"},
                "store": {"type": "string"}
            }
        },
        "endpoints.StatusResponse": {
            "type": "object",
            "properties": {
                "server": {"type": "string"},
                "store": {
                    "type": "object",
                    "properties": {
                        "backend": {"type": "string"},
                        "container": {"type": "string"},
                        "health": {"type": "string"},
                        "url": {"type": "string"}
                    }
                },
                "queue": {
                    "type": "object",
                    "properties": {
                        "workers": {"type": "integer"},
                        "queued": {"type": "integer"},
                        "running": {"type": "integer"},
                        "capacity": {"type": "integer"}
                    }
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "epubify API",
	Description:      "Converts web documentation trees into EPUB books.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
