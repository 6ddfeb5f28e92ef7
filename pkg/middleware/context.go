package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/clover/pkg/context"
)

const (
	// HeaderTenantID is the header key for tenant ID
	HeaderTenantID = "X-Tenant-ID"
	// HeaderUserID is the header key for the acting user
	HeaderUserID = "X-User-ID"
)

// Context copies request id and caller identity headers into the request context.
// A :tenant_id path parameter wins over the tenant header.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			tenantID := c.Param("tenant_id")
			if tenantID == "" {
				tenantID = req.Header.Get(HeaderTenantID)
			}

			ctx := req.Context()
			ctx = appctx.SetRequestID(ctx, requestID)
			ctx = appctx.SetTenantID(ctx, tenantID)
			ctx = appctx.SetUserID(ctx, req.Header.Get(HeaderUserID))
			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
