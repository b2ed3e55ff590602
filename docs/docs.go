// Package docs holds the swaggo API specification. Regenerate with
// `swag init -g cmd/inferd/docs.go -o docs`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{escape .Description}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/generate": {
            "post": {
                "summary": "Generate text",
                "consumes": ["application/json"],
                "produces": ["application/json"]
            }
        },
        "/generate_stream": {
            "post": {
                "summary": "Generate text as a stream",
                "consumes": ["application/json"],
                "produces": ["text/event-stream"]
            }
        },
        "/tokenize": {
            "post": {
                "summary": "Tokenize text",
                "consumes": ["application/json"],
                "produces": ["application/json"]
            }
        },
        "/chat_template": {
            "post": {
                "summary": "Render the chat template",
                "consumes": ["application/json"],
                "produces": ["application/json"]
            }
        },
        "/health": {
            "get": {
                "summary": "Backend health"
            }
        },
        "/info": {
            "get": {
                "summary": "Service info",
                "produces": ["application/json"]
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "inferd API",
	Description:      "HTTP API for local LLM text generation with energy accounting.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
