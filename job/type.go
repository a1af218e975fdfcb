package job

import "fmt"

// Type tags the handler that executes a job. The set is closed: adding a
// kind means adding a constant here and registering a handler for it.
type Type string

const (
	TypeDynamicCron     Type = "dynamic_cron"
	TypeWebhookDelivery Type = "webhook_delivery"
	TypeTokenRefresh    Type = "token_refresh"
	TypeAkeneoImport    Type = "akeneo_import"
	TypeShopifySync     Type = "shopify_sync"
	TypeCreditDeduction Type = "credit_deduction"
	TypeCleanup         Type = "cleanup"
)

// Types lists every known job type.
func Types() []Type {
	return []Type{
		TypeDynamicCron,
		TypeWebhookDelivery,
		TypeTokenRefresh,
		TypeAkeneoImport,
		TypeShopifySync,
		TypeCreditDeduction,
		TypeCleanup,
	}
}

// ParseType validates s against the known job types.
func ParseType(s string) (Type, error) {
	for _, t := range Types() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("job: unknown type %q", s)
}

// Valid reports whether t is a known job type.
func (t Type) Valid() bool {
	_, err := ParseType(string(t))
	return err == nil
}
