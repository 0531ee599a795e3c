// Package audit records security-relevant activity: logins, logouts,
// refreshes, refresh-token reuse, permission grants and revocations, and
// permission-template changes.
//
// Events are written to the activity_logs table by DBLogger. Permission
// mutations call Insert with their own *sql.Tx so the grant and its audit
// row commit together. Other events go through a Logger, typically a
// MultiLogger fanning out to the database and the structured log stream.
package audit
