package rls

import (
	identitydomain "github.com/flowglad/flowglad/internal/identity/domain"
	"gorm.io/gorm"
)

// Session variables the SQL policies read. These names are a wire protocol
// shared with the policy definitions in the migrations; do not rename one
// side without the other.
const (
	ClaimsVar   = "request.jwt.claims"
	LivemodeVar = "app.livemode"
)

// SecurityContext is the typed value bound to a SQL session for the duration
// of one transaction.
type SecurityContext struct {
	Claim identitydomain.Claim
}

// Binder binds and releases a security context on a transaction handle.
// Release must run on every exit path, including errors: leaving a pooled
// connection in a non-default role leaks one caller's privileges to the next.
type Binder interface {
	Bind(tx *gorm.DB, sc SecurityContext) error
	// BindAdmin drops any stale claim variable and sets livemode without
	// switching roles. Admin transactions run under the connection's
	// default (privileged) role, but a reused session must never carry a
	// prior caller's claims.
	BindAdmin(tx *gorm.DB, livemode bool) error
	Release(tx *gorm.DB) error
}

// PostgresBinder implements the binding protocol with session-local config
// variables and SET LOCAL ROLE. Everything is transaction-scoped
// (is_local = true / SET LOCAL), so COMMIT or ROLLBACK also discards it.
type PostgresBinder struct{}

func NewPostgresBinder() *PostgresBinder { return &PostgresBinder{} }

func (b *PostgresBinder) Bind(tx *gorm.DB, sc SecurityContext) error {
	// Order matters: clear prior claim, set the new one, switch role, then
	// livemode. The role switch must come after the claim is in place so a
	// policy evaluated mid-bind never sees the new role with old claims.
	if err := b.clear(tx); err != nil {
		return err
	}

	encoded, err := sc.Claim.EncodeJSON()
	if err != nil {
		return err
	}
	if err := tx.Exec("SELECT set_config(?, ?, true)", ClaimsVar, encoded).Error; err != nil {
		return err
	}

	role := string(sc.Claim.Role)
	if err := tx.Exec("SET LOCAL ROLE " + quoteIdent(role)).Error; err != nil {
		return err
	}

	return b.setLivemode(tx, sc.Claim.Livemode)
}

func (b *PostgresBinder) BindAdmin(tx *gorm.DB, livemode bool) error {
	if err := b.clear(tx); err != nil {
		return err
	}
	return b.setLivemode(tx, livemode)
}

func (b *PostgresBinder) Release(tx *gorm.DB) error {
	return tx.Exec("RESET ROLE").Error
}

func (b *PostgresBinder) clear(tx *gorm.DB) error {
	return tx.Exec("SELECT set_config(?, NULL, true)", ClaimsVar).Error
}

func (b *PostgresBinder) setLivemode(tx *gorm.DB, livemode bool) error {
	value := "false"
	if livemode {
		value = "true"
	}
	return tx.Exec("SELECT set_config(?, ?, true)", LivemodeVar, value).Error
}

// quoteIdent double-quotes a role name. Role values come from the Role enum,
// never from request input, but quoting keeps the statement well-formed
// regardless.
func quoteIdent(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, name[i])
	}
	return string(append(out, '"'))
}

// NoopBinder is used on dialects without roles or session variables
// (sqlite in tests, mysql single-role deployments).
type NoopBinder struct{}

func NewNoopBinder() *NoopBinder { return &NoopBinder{} }

func (NoopBinder) Bind(*gorm.DB, SecurityContext) error { return nil }
func (NoopBinder) BindAdmin(*gorm.DB, bool) error       { return nil }
func (NoopBinder) Release(*gorm.DB) error               { return nil }

// ForDialect picks the binder matching the connected database.
func ForDialect(db *gorm.DB) Binder {
	if db != nil && db.Dialector != nil && db.Dialector.Name() == "postgres" {
		return NewPostgresBinder()
	}
	return NewNoopBinder()
}
