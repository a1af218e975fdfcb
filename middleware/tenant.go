package middleware

import (
	"github.com/assaka/daino-jobs/handler"
	"github.com/assaka/daino-jobs/tenant"
)

// Tenant returns middleware that carries the job's store ID on the
// handler context so tenant-aware code downstream can find it.
func Tenant() Middleware {
	return func(hc *handler.Context, next handler.Func) (any, error) {
		storeID := hc.Job().StoreID
		if storeID == "" {
			return next(hc)
		}
		return next(hc.WithContext(tenant.WithStoreID(hc.Context(), storeID)))
	}
}
