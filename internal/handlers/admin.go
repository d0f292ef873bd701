package handlers

import (
	"github.com/go-chi/chi/v5"

	"github.com/northwear/api/internal/platform/auth"
)

// AdminRoutes combines the admin handler groups behind staff authentication.
// Every route in the group requires a Firebase token carrying one of the
// staff roles.
func AdminRoutes(authn *auth.Authenticator, catalog *AdminCatalogHandlers, discounts *AdminDiscountHandlers, orders *AdminOrderHandlers) RouteRegistrar {
	return func(r chi.Router) {
		if r == nil {
			return
		}
		if authn != nil {
			r.Use(authn.RequireFirebaseAuth(adminRoles...))
		}
		if catalog != nil {
			catalog.Routes(r)
		}
		if discounts != nil {
			discounts.Routes(r)
		}
		if orders != nil {
			orders.Routes(r)
		}
	}
}
