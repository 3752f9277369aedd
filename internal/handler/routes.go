package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/riteshkumar/merchant-credit/internal/service"
	u "github.com/riteshkumar/merchant-credit/internal/utils"
)

// NewPublicRouter serves the owner-facing routes.
func NewPublicRouter(creditService service.CreditService, logger *slog.Logger) *mux.Router {
	router := mux.NewRouter()
	NewAccountHandler(creditService, logger).RegisterRoutes(router)
	NewOverdraftHandler(creditService, logger).RegisterRoutes(router)
	return router
}

// NewInternalRouter serves the hooks the payment pipeline and back office
// call. Every route requires the service key.
func NewInternalRouter(creditService service.CreditService, serviceKey string, logger *slog.Logger) *mux.Router {
	router := mux.NewRouter()
	NewAccountHandler(creditService, logger).RegisterInternalRoutes(router)
	NewOverdraftHandler(creditService, logger).RegisterInternalRoutes(router)
	NewTransactionHandler(creditService, logger).RegisterInternalRoutes(router)
	router.Use(RequireServiceKey(serviceKey, logger))
	return router
}

// ServiceKeyHeader carries the shared key of a platform service calling an
// internal route.
const ServiceKeyHeader = "X-Service-Key"

// RequireServiceKey rejects requests whose service key does not match key.
func RequireServiceKey(key string, logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(ServiceKeyHeader)
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				logger.Warn("rejected internal request",
					"method", r.Method,
					"path", r.URL.Path,
				)
				u.WriteError(w, http.StatusUnauthorized, "unauthorized", "a valid service key is required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
