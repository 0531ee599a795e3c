// Package rbac resolves what a user may do and manages direct permission grants.
//
// # Overview
//
// Access is expressed as dot-separated permission codes such as
// "customers.view" or "orders.refund". A user's effective permissions are the
// union of two sources:
//
//  1. Role defaults: every catalog entry whose default_for_roles contains the
//     user's role.
//  2. Direct grants: user_permissions rows that are neither revoked nor
//     expired.
//
// When both sources supply the same code the direct grant wins, so the
// result carries its grant metadata (granted_at, granted_by, expires_at).
//
// # Catalog
//
// The catalog is seeded from a YAML document. The embedded default is used
// unless a seed file is configured:
//
//	seed, err := rbac.LoadSeedFile("/etc/turnstile/permissions.yaml")
//	if err != nil {
//		return err
//	}
//	if err := resolver.SyncCatalog(ctx, seed); err != nil {
//		return err
//	}
//
// Entries may name a parent. The catalog is held in memory as a Hierarchy,
// an arena of nodes addressed by index with parent and child links, which
// answers ancestor and descendant queries without walking the database.
// Cycles in the stored data are broken at the first repeated node.
//
// # Hierarchical Checks
//
// GetEffectivePermissions accepts a hierarchical flag. When set, holding a
// permission also yields every descendant of it with source "inherited":
//
//	perms, err := resolver.GetEffectivePermissions(ctx, userID, true)
//
// HasPermission, HasAny and HasAll use the mode chosen with
// WithHierarchicalChecks.
//
// # Grants
//
// Grant, GrantTemporary, ClonePermissions and ApplyTemplate insert rows and
// skip codes the user already actively holds:
//
//	result, err := resolver.Grant(ctx, rbac.GrantRequest{
//		UserID:    userID,
//		Codes:     []string{"orders.refund"},
//		GrantedBy: adminID,
//		Reason:    "quarter close",
//	})
//	// result.Granted == ["orders.refund"], result.Skipped == []
//
// Every mutation writes its activity_logs row in the same transaction as
// the grant change. CleanupExpiredPermissions stamps expired grants with
// revoke_reason "Permission expired" and revoked_by "system"; it only
// compares timestamps, so running it twice or from two processes is safe.
//
// # Caching
//
// The catalog and role defaults change only when the catalog is synced, so
// the Resolver keeps them in an expiring LRU (WithCatalogTTL). Direct grants
// are always read from the database.
package rbac
