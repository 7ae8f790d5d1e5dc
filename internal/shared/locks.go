package shared

import "fmt"

// BackfillLockKey builds redis keys guarding a COGS backfill scope.
func BackfillLockKey(tenantID int64, storeID *int64) string {
	if storeID == nil {
		return fmt.Sprintf("cogs:backfill:%d:-", tenantID)
	}
	return fmt.Sprintf("cogs:backfill:%d:%d", tenantID, *storeID)
}
