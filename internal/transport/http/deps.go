package http

import (
	"time"

	"github.com/farmacy-notify/internal/application/jobs"
	"github.com/farmacy-notify/internal/application/notification"
	"github.com/farmacy-notify/internal/application/token"
	"github.com/farmacy-notify/internal/application/topic"
	"github.com/farmacy-notify/internal/transport/http/handler"
	appmiddleware "github.com/farmacy-notify/internal/transport/http/middleware"
)

// Deps holds the services and collaborators the router exposes.
type Deps struct {
	Notifications notification.Service
	Tokens        token.Service
	Topics        topic.Service
	Jobs          jobs.Service
	// A nil Verifier rejects every authenticated route.
	Verifier appmiddleware.TokenVerifier
	// Checks feed the readiness endpoint, keyed by dependency name.
	Checks   map[string]handler.HealthCheck
	Location *time.Location
}
