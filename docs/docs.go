// Package docs holds the OpenAPI document served at /swagger when
// SWAGGER_ENABLED is set. Regenerate with `swag init -g cmd/server/main.go`
// after changing handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/chatroom": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Chatrooms"],
                "summary": "List chatrooms",
                "operationId": "listChatrooms",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ChatroomListResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Chatrooms"],
                "summary": "Create a chatroom",
                "operationId": "createChatroom",
                "parameters": [
                    {"description": "Chatroom name", "name": "body", "in": "body", "schema": {"$ref": "#/definitions/handlers.CreateChatroomRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.ChatroomResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chatroom/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Chatrooms"],
                "summary": "Get a chatroom",
                "operationId": "getChatroom",
                "parameters": [
                    {"minimum": 1, "type": "integer", "description": "Chatroom ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ChatroomResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Chatroom not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chatroom/{id}/message": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "Send a message",
                "operationId": "sendMessage",
                "parameters": [
                    {"type": "string", "description": "Key for safe retries", "name": "Idempotency-Key", "in": "header"},
                    {"minimum": 1, "type": "integer", "description": "Chatroom ID", "name": "id", "in": "path", "required": true},
                    {"description": "User message", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.SendMessageRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted for generation", "schema": {"$ref": "#/definitions/handlers.SendMessageResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Chatroom not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "429": {"description": "Daily quota exhausted", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chatroom/{id}/messages": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "List messages in a chatroom",
                "operationId": "listMessages",
                "parameters": [
                    {"minimum": 1, "type": "integer", "description": "Chatroom ID", "name": "id", "in": "path", "required": true},
                    {"maximum": 500, "minimum": 1, "type": "integer", "default": 100, "description": "Maximum messages to return", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListMessagesResponse"}},
                    "404": {"description": "Chatroom not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/user/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Users"],
                "summary": "Current user",
                "operationId": "getMe",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.UserResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/subscribe/pro": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Subscriptions"],
                "summary": "Start a Pro checkout",
                "operationId": "subscribePro",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/billing.CheckoutSession"}},
                    "503": {"description": "Billing not configured", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/subscription/status": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Subscriptions"],
                "summary": "Subscription status",
                "operationId": "subscriptionStatus",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.SubscriptionStatus"}}
                }
            }
        },
        "/webhook/stripe": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Billing"],
                "summary": "Billing webhook",
                "operationId": "stripeWebhook",
                "parameters": [
                    {"type": "string", "description": "Provider signature", "name": "Stripe-Signature", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.WebhookAck"}},
                    "400": {"description": "Bad signature or malformed event", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Processing failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "billing.CheckoutSession": {
            "type": "object",
            "properties": {"session_id": {"type": "string"}, "url": {"type": "string"}}
        },
        "domain.Chatroom": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "user_id": {"type": "integer"},
                "name": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"},
                "messages": {"type": "array", "items": {"$ref": "#/definitions/domain.Message"}}
            }
        },
        "domain.Message": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "chatroom_id": {"type": "integer"},
                "user_id": {"type": "integer"},
                "text": {"type": "string"},
                "response": {"type": "string", "x-nullable": true},
                "is_user_message": {"type": "boolean"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.User": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "mobile": {"type": "string"},
                "subscription_tier": {"type": "string", "enum": ["basic", "pro"]},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "handlers.ChatroomListResponse": {
            "type": "object",
            "properties": {"chatrooms": {"type": "array", "items": {"$ref": "#/definitions/domain.Chatroom"}}}
        },
        "handlers.ChatroomResponse": {
            "type": "object",
            "properties": {"chatroom": {"$ref": "#/definitions/domain.Chatroom"}}
        },
        "handlers.CreateChatroomRequest": {
            "type": "object",
            "properties": {"name": {"type": "string", "example": "Trip planning"}}
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string", "example": "not_found"},
                "message": {"type": "string"}
            }
        },
        "handlers.ListMessagesResponse": {
            "type": "object",
            "properties": {"messages": {"type": "array", "items": {"$ref": "#/definitions/domain.Message"}}}
        },
        "handlers.SendMessageRequest": {
            "type": "object",
            "required": ["message"],
            "properties": {"message": {"type": "string"}}
        },
        "handlers.SendMessageResponse": {
            "type": "object",
            "properties": {
                "message": {"$ref": "#/definitions/domain.Message"},
                "status": {"type": "string", "example": "processing"}
            }
        },
        "handlers.UserResponse": {
            "type": "object",
            "properties": {"user": {"$ref": "#/definitions/domain.User"}}
        },
        "handlers.WebhookAck": {
            "type": "object",
            "properties": {"received": {"type": "boolean"}}
        },
        "services.SubscriptionStatus": {
            "type": "object",
            "properties": {
                "tier": {"type": "string"},
                "subscription": {
                    "type": "object",
                    "x-nullable": true,
                    "properties": {
                        "id": {"type": "integer"},
                        "status": {"type": "string"},
                        "current_period_end": {"type": "string"}
                    }
                }
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Chatroom AI API",
	Description:      "Chatrooms with asynchronous AI replies, tiered quotas and Pro subscriptions.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
