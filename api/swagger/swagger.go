package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "OpsDash API",
        "description": "Operational dashboard records with role based approval of data mutations",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Mutations", "description": "Direct or approval gated data changes"},
        {"name": "Approvals", "description": "Pending request queue and review"},
        {"name": "Records", "description": "Operational records per category"},
        {"name": "Notifications", "description": "Change stream for open dashboards"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Liveness check",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Dependencies reachable"},
                    "503": {"description": "Degraded"}
                }
            }
        },
        "/metrics": {
            "get": {
                "summary": "Prometheus metrics",
                "produces": ["text/plain"],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/mutations": {
            "post": {
                "tags": ["Mutations"],
                "summary": "Submit a data mutation",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitMutationRequest"}}
                ],
                "responses": {
                    "201": {"description": "Applied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Pending approval", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/approvals": {
            "get": {
                "tags": ["Approvals"],
                "summary": "List pending approval requests",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "table", "in": "query", "type": "string"},
                    {"name": "requester", "in": "query", "type": "integer"},
                    {"name": "department", "in": "query", "type": "string"},
                    {"name": "after", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/approvals/{id}": {
            "get": {
                "tags": ["Approvals"],
                "summary": "Get an approval request",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/approvals/{id}/review": {
            "post": {
                "tags": ["Approvals"],
                "summary": "Approve or reject a pending request",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReviewRequest"}}
                ],
                "responses": {
                    "200": {"description": "Decision recorded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already decided", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/records/{table}": {
            "get": {
                "tags": ["Records"],
                "summary": "List records of a category",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "table", "in": "path", "required": true, "type": "string"},
                    {"name": "department", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "offset", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Records"],
                "summary": "Create a record",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "table", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RecordPayload"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Pending approval", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/records/{table}/{id}": {
            "get": {
                "tags": ["Records"],
                "summary": "Get a record",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "table", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "patch": {
                "tags": ["Records"],
                "summary": "Edit a record",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "table", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RecordPayload"}}
                ],
                "responses": {
                    "200": {"description": "Updated", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Pending approval", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Records"],
                "summary": "Delete a record",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "table", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "Deleted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Pending approval", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/policy": {
            "get": {
                "tags": ["Records"],
                "summary": "Permission summary for the current session",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "table", "in": "query", "required": true, "type": "string"},
                    {"name": "department", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/ws/changes": {
            "get": {
                "tags": ["Notifications"],
                "summary": "Subscribe to change notifications",
                "parameters": [
                    {"name": "categories", "in": "query", "type": "string"},
                    {"name": "access_token", "in": "query", "type": "string"}
                ],
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        }
    },
    "definitions": {
        "SubmitMutationRequest": {
            "type": "object",
            "required": ["requestType", "tableName"],
            "properties": {
                "requestType": {"type": "string", "enum": ["data_change", "data_deletion", "data_creation"]},
                "tableName": {"type": "string"},
                "recordId": {"type": "integer"},
                "oldData": {"type": "object"},
                "newData": {"type": "object"}
            }
        },
        "ReviewRequest": {
            "type": "object",
            "required": ["decision"],
            "properties": {
                "decision": {"type": "string", "enum": ["APPROVED", "REJECTED"]},
                "note": {"type": "string"}
            }
        },
        "RecordPayload": {
            "type": "object",
            "required": ["data"],
            "properties": {
                "data": {"type": "object"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
