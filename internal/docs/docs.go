// Package docs registers the OpenAPI description of the health and
// operational HTTP surface (health.go, cmd/handler's /events endpoint) with
// swag's runtime registry, the same registration a `swag init` run would
// emit into a generated docs.go. Hand-maintained here since the surface is
// small and stable; regenerate by hand if a route is added or changed.
package docs

import "github.com/swaggo/swag"

const doc = `{
    "swagger": "2.0",
    "info": {
        "title": "guardduty-sentinel-integration",
        "description": "Operational endpoints for the GuardDuty-to-Sentinel ingestion pipeline: liveness/readiness, Prometheus metrics, and (push entry point only) the S3 event-notification intake.",
        "version": "1.0"
    },
    "basePath": "/",
    "paths": {
        "/health": {
            "get": {
                "summary": "Aggregate pipeline health",
                "description": "Folds every registered component probe into one overall status: unhealthy if any probe is unhealthy, else degraded if any is degraded, else healthy.",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "healthy or degraded"},
                    "503": {"description": "unhealthy"}
                }
            }
        },
        "/metrics": {
            "get": {
                "summary": "Prometheus metrics",
                "produces": ["text/plain"],
                "responses": {
                    "200": {"description": "Prometheus exposition format"}
                }
            }
        },
        "/events": {
            "post": {
                "summary": "S3 event-notification intake (push entry point only)",
                "description": "Accepts an S3-style event-notification payload and enqueues one ObjectRef per record. Returns 503 when the input queue is full.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "responses": {
                    "202": {"description": "all records accepted"},
                    "400": {"description": "malformed event payload"},
                    "503": {"description": "input queue full, at least one record rejected"}
                }
            }
        }
    }
}`

// SwaggerInfo is the OpenAPI description gin-swagger reads to serve
// /swagger/doc.json and the bundled UI.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "guardduty-sentinel-integration",
	Description:      "Operational endpoints for the GuardDuty-to-Sentinel ingestion pipeline.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  doc,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
