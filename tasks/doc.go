// Package tasks holds the concrete job handlers the runner ships with:
// webhook delivery, token refresh, catalog import relays, daily credit
// deduction and table cleanup.
//
// Each task is a small struct built with its collaborators and a
// Register method that binds it to a handler.Registry:
//
//	tasks.NewWebhookDelivery(httpclient.New(), deliveryLog).Register(reg)
//
// Collaborators that reach outside the module (token refresh, catalog
// import, billing) are interfaces; their implementations live with the
// integrations.
package tasks
