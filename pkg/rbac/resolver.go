package rbac

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/turnstile/pkg/apperr"
	"github.com/platinummonkey/turnstile/pkg/audit"
	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

const catalogKey = "catalog"

// UserLookup resolves the users permissions are computed for.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*auth.User, error)
}

// Resolver computes effective permissions and mutates direct grants.
type Resolver struct {
	store   Store
	users   UserLookup
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time

	// notifier receives permission events after they are committed.
	notifier audit.Logger

	hierarchical bool
	templates    map[string]Template

	catalog *lru.LRU[string, *Hierarchy]
	roles   *lru.LRU[string, []*Permission]
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithLogger(l *observability.Logger) Option {
	return func(r *Resolver) { r.logger = observability.OrNop(l) }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithCatalogTTL caches the catalog and role defaults for ttl. Zero
// disables caching.
func WithCatalogTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl <= 0 {
			r.catalog, r.roles = nil, nil
			return
		}
		r.catalog = lru.NewLRU[string, *Hierarchy](1, nil, ttl)
		r.roles = lru.NewLRU[string, []*Permission](64, nil, ttl)
	}
}

// WithHierarchicalChecks makes HasPermission, HasAny and HasAll treat a
// held permission as implying all of its descendants.
func WithHierarchicalChecks(enabled bool) Option {
	return func(r *Resolver) { r.hierarchical = enabled }
}

// WithNotifier forwards committed permission events to l, in addition to
// the activity-log row written with each change.
func WithNotifier(l audit.Logger) Option {
	return func(r *Resolver) { r.notifier = l }
}

// WithTemplates registers the templates ApplyTemplate can use.
func WithTemplates(templates []Template) Option {
	return func(r *Resolver) {
		for _, t := range templates {
			r.templates[t.Name] = t
		}
	}
}

// NewResolver creates a permission resolver.
func NewResolver(store Store, users UserLookup, opts ...Option) *Resolver {
	r := &Resolver{
		store:     store,
		users:     users,
		logger:    observability.NewNopLogger(),
		now:       time.Now,
		templates: make(map[string]Template),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetRolePermissions returns the permissions every holder of role has.
func (r *Resolver) GetRolePermissions(ctx context.Context, role string) ([]*Permission, error) {
	if r.roles != nil {
		if perms, ok := r.roles.Get(role); ok {
			return perms, nil
		}
	}
	perms, err := r.store.ListRolePermissions(ctx, role)
	if err != nil {
		return nil, err
	}
	if r.roles != nil {
		r.roles.Add(role, perms)
	}
	return perms, nil
}

// GetDirectPermissions returns the user's active direct grants.
func (r *Resolver) GetDirectPermissions(ctx context.Context, userID string) ([]*UserPermission, error) {
	return r.store.ListActiveGrants(ctx, userID, r.now().UTC())
}

// GetEffectivePermissions merges role defaults and active direct grants by
// code, with the direct grant winning. With hierarchical set, descendants
// of every held permission are added with source "inherited".
func (r *Resolver) GetEffectivePermissions(ctx context.Context, userID string, hierarchical bool) ([]*EffectivePermission, error) {
	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.effective(ctx, user, hierarchical)
}

func (r *Resolver) effective(ctx context.Context, user *auth.User, hierarchical bool) ([]*EffectivePermission, error) {
	var (
		rolePerms []*Permission
		grants    []*UserPermission
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rolePerms, err = r.GetRolePermissions(gctx, user.Role)
		return err
	})
	g.Go(func() error {
		var err error
		grants, err = r.GetDirectPermissions(gctx, user.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]*EffectivePermission, len(rolePerms)+len(grants))
	for _, p := range rolePerms {
		merged[p.Code] = &EffectivePermission{Permission: *p, Source: SourceRole}
	}
	for _, gr := range grants {
		grantedAt := gr.GrantedAt
		merged[gr.Permission.Code] = &EffectivePermission{
			Permission: *gr.Permission,
			Source:     SourceDirect,
			GrantedAt:  &grantedAt,
			GrantedBy:  gr.GrantedBy,
			ExpiresAt:  gr.ExpiresAt,
		}
	}

	if hierarchical {
		catalog, err := r.Catalog(ctx)
		if err != nil {
			return nil, err
		}
		held := make([]string, 0, len(merged))
		for code := range merged {
			held = append(held, code)
		}
		sort.Strings(held)
		for _, code := range held {
			for _, d := range catalog.Descendants(code) {
				if _, ok := merged[d.Code]; ok {
					continue
				}
				merged[d.Code] = &EffectivePermission{Permission: *d, Source: SourceInherited, InheritedFrom: code}
			}
		}
	}

	out := make([]*EffectivePermission, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

// HasPermission reports whether the user effectively holds code.
func (r *Resolver) HasPermission(ctx context.Context, userID, code string) (bool, error) {
	held, err := r.heldCodes(ctx, userID)
	if err != nil {
		return false, err
	}
	allowed := held[code]
	r.metrics.PermissionCheck("single", allowed)
	return allowed, nil
}

// HasAny reports whether the user holds at least one of codes. It is false
// for an empty list.
func (r *Resolver) HasAny(ctx context.Context, userID string, codes []string) (bool, error) {
	held, err := r.heldCodes(ctx, userID)
	if err != nil {
		return false, err
	}
	allowed := false
	for _, c := range codes {
		if held[c] {
			allowed = true
			break
		}
	}
	r.metrics.PermissionCheck("any", allowed)
	return allowed, nil
}

// HasAll reports whether the user holds every one of codes. It is true for
// an empty list.
func (r *Resolver) HasAll(ctx context.Context, userID string, codes []string) (bool, error) {
	held, err := r.heldCodes(ctx, userID)
	if err != nil {
		return false, err
	}
	allowed := true
	for _, c := range codes {
		if !held[c] {
			allowed = false
			break
		}
	}
	r.metrics.PermissionCheck("all", allowed)
	return allowed, nil
}

// Missing returns the codes the user does not hold, in input order. It
// counts as an "all" check.
func (r *Resolver) Missing(ctx context.Context, userID string, codes []string) ([]string, error) {
	held, err := r.heldCodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, c := range codes {
		if !held[c] {
			missing = append(missing, c)
		}
	}
	r.metrics.PermissionCheck("all", len(missing) == 0)
	return missing, nil
}

func (r *Resolver) heldCodes(ctx context.Context, userID string) (map[string]bool, error) {
	perms, err := r.GetEffectivePermissions(ctx, userID, r.hierarchical)
	if err != nil {
		return nil, err
	}
	held := make(map[string]bool, len(perms))
	for _, p := range perms {
		held[p.Code] = true
	}
	return held, nil
}

// Grant grants codes to a user. Unknown codes fail the whole request;
// codes the user already actively holds are skipped.
func (r *Resolver) Grant(ctx context.Context, req GrantRequest) (*GrantResult, error) {
	return r.grant(ctx, req, audit.ActionPermissionGrant, nil)
}

// GrantTemporary grants code for the next hours hours.
func (r *Resolver) GrantTemporary(ctx context.Context, userID, code, grantedBy string, hours int) (*GrantResult, error) {
	if hours <= 0 {
		return nil, apperr.Invalid("hours", "must be positive")
	}
	catalog, err := r.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := catalog.Lookup(code); !ok {
		return nil, apperr.NotFound("permission", code)
	}

	expiresAt := r.now().UTC().Add(time.Duration(hours) * time.Hour)
	return r.grant(ctx, GrantRequest{
		UserID:    userID,
		Codes:     []string{code},
		GrantedBy: grantedBy,
		Reason:    "temporary grant",
		ExpiresAt: &expiresAt,
	}, audit.ActionPermissionGrantTemporary, map[string]interface{}{"hours": hours})
}

// ApplyTemplate grants every code of the named template.
func (r *Resolver) ApplyTemplate(ctx context.Context, userID, name, grantedBy string) (*GrantResult, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return nil, apperr.NotFound("permission template", name)
	}
	return r.grant(ctx, GrantRequest{
		UserID:    userID,
		Codes:     tmpl.Permissions,
		GrantedBy: grantedBy,
		Reason:    "template " + name,
	}, audit.ActionPermissionTemplateApply, map[string]interface{}{"template": name})
}

// Templates lists registered templates by name.
func (r *Resolver) Templates() []Template {
	out := make([]Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Resolver) grant(ctx context.Context, req GrantRequest, action audit.Action, details map[string]interface{}) (*GrantResult, error) {
	codes := dedupe(req.Codes)
	if req.UserID == "" {
		return nil, apperr.Invalid("user_id", "is required")
	}
	if len(codes) == 0 {
		return nil, apperr.Invalid("codes", "at least one permission code is required")
	}
	now := r.now().UTC()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, apperr.Invalid("expires_at", "must be in the future")
	}

	catalog, err := r.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	var unknown []string
	perms := make([]*Permission, 0, len(codes))
	for _, c := range codes {
		p, ok := catalog.Lookup(c)
		if !ok {
			unknown = append(unknown, c)
			continue
		}
		perms = append(perms, p)
	}
	if len(unknown) > 0 {
		return nil, apperr.Invalid("codes", "unknown permission codes", unknown...)
	}

	if _, err := r.users.GetUser(ctx, req.UserID); err != nil {
		return nil, err
	}

	grants := make([]*UserPermission, 0, len(perms))
	for _, p := range perms {
		grants = append(grants, &UserPermission{
			ID:           uuid.NewString(),
			UserID:       req.UserID,
			PermissionID: p.ID,
			GrantedBy:    req.GrantedBy,
			GrantedAt:    now,
			GrantReason:  req.Reason,
			ExpiresAt:    req.ExpiresAt,
			CanDelegate:  req.CanDelegate,
			Permission:   p,
		})
	}

	event := audit.NewEvent(ctx, action, audit.CategoryPermission, req.GrantedBy, req.UserID).
		With("codes", codes)
	for k, v := range details {
		event.With(k, v)
	}
	if req.Reason != "" {
		event.With("reason", req.Reason)
	}
	if req.ExpiresAt != nil {
		event.With("expires_at", req.ExpiresAt.Format(time.RFC3339))
	}

	inserted, err := r.store.GrantPermissions(ctx, req.UserID, grants, now, event)
	if err != nil {
		return nil, err
	}

	result := splitResult(codes, inserted)
	r.metrics.PermissionMutation(string(action), int64(len(result.Granted)))
	if len(result.Granted) > 0 {
		r.notify(ctx, event)
	}
	r.logger.WithFields(map[string]interface{}{
		"action":     string(action),
		"user_id":    req.UserID,
		"granted_by": req.GrantedBy,
		"granted":    strings.Join(result.Granted, ","),
		"skipped":    strings.Join(result.Skipped, ","),
	}).Info("Permissions granted")
	return result, nil
}

// Revoke revokes the user's active grants of codes. Codes that are unknown
// or not held are ignored.
func (r *Resolver) Revoke(ctx context.Context, userID string, codes []string, revokedBy, reason string) (int64, error) {
	codes = dedupe(codes)
	if userID == "" {
		return 0, apperr.Invalid("user_id", "is required")
	}
	if len(codes) == 0 {
		return 0, apperr.Invalid("codes", "at least one permission code is required")
	}

	catalog, err := r.Catalog(ctx)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(codes))
	for _, c := range codes {
		if p, ok := catalog.Lookup(c); ok {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	event := audit.NewEvent(ctx, audit.ActionPermissionRevoke, audit.CategoryPermission, revokedBy, userID).
		With("codes", codes)
	if reason != "" {
		event.With("reason", reason)
	}
	n, err := r.store.RevokeGrants(ctx, userID, ids, revokedBy, reason, r.now().UTC(), event)
	if err != nil {
		return 0, err
	}

	r.metrics.PermissionMutation(string(audit.ActionPermissionRevoke), n)
	if n > 0 {
		r.notify(ctx, event)
		r.logger.WithFields(map[string]interface{}{
			"user_id":    userID,
			"revoked_by": revokedBy,
			"revoked":    n,
		}).Info("Permissions revoked")
	}
	return n, nil
}

// CleanupExpiredPermissions revokes every grant past its expiry with
// reason "Permission expired".
func (r *Resolver) CleanupExpiredPermissions(ctx context.Context) (int64, error) {
	event := audit.NewEvent(ctx, audit.ActionPermissionExpire, audit.CategoryPermission, SystemActor, "")
	n, err := r.store.ExpireGrants(ctx, r.now().UTC(), event)
	if err != nil {
		return 0, err
	}
	r.metrics.PermissionMutation(string(audit.ActionPermissionExpire), n)
	if n > 0 {
		r.notify(ctx, event)
	}
	return n, nil
}

// ClonePermissions copies the source user's active direct grants, with
// their expiry and delegation metadata, onto the target.
func (r *Resolver) ClonePermissions(ctx context.Context, sourceUserID, targetUserID, clonedBy string) (*GrantResult, error) {
	if sourceUserID == "" || targetUserID == "" {
		return nil, apperr.Invalid("user_id", "source and target are required")
	}
	if sourceUserID == targetUserID {
		return nil, apperr.Invalid("target_user_id", "must differ from the source user")
	}
	if _, err := r.users.GetUser(ctx, sourceUserID); err != nil {
		return nil, err
	}
	if _, err := r.users.GetUser(ctx, targetUserID); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	source, err := r.store.ListActiveGrants(ctx, sourceUserID, now)
	if err != nil {
		return nil, err
	}
	if len(source) == 0 {
		return &GrantResult{Granted: []string{}, Skipped: []string{}}, nil
	}

	codes := make([]string, 0, len(source))
	grants := make([]*UserPermission, 0, len(source))
	for _, g := range source {
		codes = append(codes, g.Permission.Code)
		grants = append(grants, &UserPermission{
			ID:            uuid.NewString(),
			UserID:        targetUserID,
			PermissionID:  g.PermissionID,
			GrantedBy:     clonedBy,
			GrantedAt:     now,
			GrantReason:   "cloned from " + sourceUserID,
			ExpiresAt:     g.ExpiresAt,
			CanDelegate:   g.CanDelegate,
			DelegatedFrom: g.DelegatedFrom,
			Permission:    g.Permission,
		})
	}

	event := audit.NewEvent(ctx, audit.ActionPermissionClone, audit.CategoryPermission, clonedBy, targetUserID).
		With("source_user_id", sourceUserID)
	inserted, err := r.store.GrantPermissions(ctx, targetUserID, grants, now, event)
	if err != nil {
		return nil, err
	}
	result := splitResult(codes, inserted)
	r.metrics.PermissionMutation(string(audit.ActionPermissionClone), int64(len(result.Granted)))
	if len(result.Granted) > 0 {
		r.notify(ctx, event)
	}
	return result, nil
}

func (r *Resolver) notify(ctx context.Context, event *audit.Event) {
	if r.notifier == nil {
		return
	}
	audit.Emit(ctx, r.notifier, r.logger, event)
}

// CheckPermissionRequirements reports whether the user holds code and what
// else the code demands before a gated operation may run.
func (r *Resolver) CheckPermissionRequirements(ctx context.Context, userID, code string) (*Requirements, error) {
	catalog, err := r.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	perm, ok := catalog.Lookup(code)
	if !ok {
		return nil, apperr.NotFound("permission", code)
	}
	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	perms, err := r.effective(ctx, user, r.hierarchical)
	if err != nil {
		return nil, err
	}

	req := &Requirements{
		Requires2FA:      perm.Requires2FA,
		RequiresApproval: perm.RequiresApproval,
		Is2FAEnabled:     user.TwoFactorEnabled,
	}
	for _, p := range perms {
		if p.Code == code {
			req.HasPermission = true
			break
		}
	}
	return req, nil
}

// GetPermissionHierarchy returns the catalog as a forest.
func (r *Resolver) GetPermissionHierarchy(ctx context.Context) ([]*PermissionNode, error) {
	catalog, err := r.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.Tree(), nil
}

// Catalog returns the permission catalog, cached when a TTL is set.
func (r *Resolver) Catalog(ctx context.Context) (*Hierarchy, error) {
	if r.catalog != nil {
		if h, ok := r.catalog.Get(catalogKey); ok {
			return h, nil
		}
	}
	perms, err := r.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	h := NewHierarchy(perms)
	if r.catalog != nil {
		r.catalog.Add(catalogKey, h)
	}
	return h, nil
}

// SyncCatalog writes the seed's catalog and registers its templates.
func (r *Resolver) SyncCatalog(ctx context.Context, seed *Seed) error {
	if err := seed.Validate(); err != nil {
		return err
	}
	perms := seed.Catalog()
	if err := r.store.UpsertPermissions(ctx, perms); err != nil {
		return err
	}
	WithTemplates(seed.Templates)(r)
	r.InvalidateCatalog()

	r.logger.WithFields(map[string]interface{}{
		"permissions": len(perms),
		"templates":   len(seed.Templates),
	}).Info("Permission catalog synced")
	return nil
}

// InvalidateCatalog drops cached catalog and role defaults.
func (r *Resolver) InvalidateCatalog() {
	if r.catalog != nil {
		r.catalog.Purge()
	}
	if r.roles != nil {
		r.roles.Purge()
	}
}

func splitResult(requested []string, inserted []*UserPermission) *GrantResult {
	granted := make(map[string]bool, len(inserted))
	for _, g := range inserted {
		granted[g.Permission.Code] = true
	}
	result := &GrantResult{Granted: []string{}, Skipped: []string{}}
	for _, c := range requested {
		if granted[c] {
			result.Granted = append(result.Granted, c)
		} else {
			result.Skipped = append(result.Skipped, c)
		}
	}
	return result
}

func dedupe(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
