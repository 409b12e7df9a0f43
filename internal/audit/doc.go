// Package audit keeps the activity log, a queryable record of hub and
// service lifecycle transitions, notification actions, and entities
// appearing or disappearing. Entries live in the audit_logs table.
//
// Usage:
//
//	repo := audit.NewSQLiteRepository(db)
//	rec := audit.NewRecorder(repo, 0)
//	router.AddObserver(rec)
//	rec.Start()
//	defer rec.Stop()
//
//	page, err := repo.List(ctx, audit.Filter{Action: audit.ActionNotificationAction})
package audit
