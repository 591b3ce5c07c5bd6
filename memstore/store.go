// Package memstore is an in-memory credential store for tests and local
// experiments. Transactions are serialized and roll back to a snapshot of
// the whole store when the callback fails. Writes made outside a
// transaction wait for the running one to finish.
package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	auth "github.com/goliatone/go-auth-rbac"
	"github.com/uptrace/bun"
)

type state struct {
	users         map[int64]*auth.User
	refreshTokens map[int64]*auth.RefreshToken
	oneTimeTokens map[int64]*auth.OneTimeToken
	auditLogs     []*auth.AuditLog
	roles         map[int64]*auth.Role
	permissions   map[int64]*auth.Permission
	rolePerms     []*auth.RolePermission
	seq           int64
}

// Store implements auth.RepositoryManager in memory
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *state
	now  func() time.Time

	// FailAuditWrites makes every audit insert fail, to exercise rollback
	FailAuditWrites bool
}

var _ auth.RepositoryManager = (*Store)(nil)

// New returns an empty store
func New() *Store {
	return &Store{
		data: &state{
			users:         map[int64]*auth.User{},
			refreshTokens: map[int64]*auth.RefreshToken{},
			oneTimeTokens: map[int64]*auth.OneTimeToken{},
			roles:         map[int64]*auth.Role{},
			permissions:   map[int64]*auth.Permission{},
		},
		now: time.Now,
	}
}

// WithClock overrides the clock used for default timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) Validate() error {
	if s.data == nil {
		return fmt.Errorf("memstore: store is not initialized, use memstore.New")
	}
	return nil
}

func (s *Store) MustValidate() {
	if err := s.Validate(); err != nil {
		panic(err)
	}
}

// RunInTx runs f while holding the transaction lock. Any error restores
// the state seen when the transaction started.
func (s *Store) RunInTx(ctx context.Context, _ *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := f(ctx, bun.Tx{}); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// lockWrite serializes a write made outside RunInTx with running
// transactions, so a rollback cannot discard it.
func (s *Store) lockWrite() func() {
	s.txMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

func (s *Store) Users() auth.Users                 { return &users{s} }
func (s *Store) RefreshTokens() auth.RefreshTokens { return &refreshTokens{s} }
func (s *Store) OneTimeTokens() auth.OneTimeTokens { return &oneTimeTokens{s} }
func (s *Store) AuditLogs() auth.AuditLogs         { return &auditLogs{s} }
func (s *Store) Roles() auth.RoleRepository        { return &roles{s} }

// SeedCatalog adds the admin and user roles
func (s *Store) SeedCatalog() {
	defer s.lockWrite()()
	for _, name := range []string{string(auth.RoleAdmin), string(auth.RoleUser)} {
		id := s.data.next()
		s.data.roles[id] = &auth.Role{ID: id, Name: name, CreatedAt: s.now().UTC()}
	}
}

func (st *state) next() int64 {
	st.seq++
	return st.seq
}

func (st *state) clone() *state {
	out := &state{
		users:         make(map[int64]*auth.User, len(st.users)),
		refreshTokens: make(map[int64]*auth.RefreshToken, len(st.refreshTokens)),
		oneTimeTokens: make(map[int64]*auth.OneTimeToken, len(st.oneTimeTokens)),
		auditLogs:     make([]*auth.AuditLog, 0, len(st.auditLogs)),
		roles:         make(map[int64]*auth.Role, len(st.roles)),
		permissions:   make(map[int64]*auth.Permission, len(st.permissions)),
		rolePerms:     make([]*auth.RolePermission, 0, len(st.rolePerms)),
		seq:           st.seq,
	}
	for id, u := range st.users {
		out.users[id] = copyUser(u)
	}
	for id, t := range st.refreshTokens {
		cp := *t
		out.refreshTokens[id] = &cp
	}
	for id, t := range st.oneTimeTokens {
		cp := *t
		out.oneTimeTokens[id] = &cp
	}
	for _, l := range st.auditLogs {
		cp := *l
		out.auditLogs = append(out.auditLogs, &cp)
	}
	for id, r := range st.roles {
		cp := *r
		out.roles[id] = &cp
	}
	for id, p := range st.permissions {
		cp := *p
		out.permissions[id] = &cp
	}
	for _, rp := range st.rolePerms {
		cp := *rp
		out.rolePerms = append(out.rolePerms, &cp)
	}
	return out
}

func copyUser(u *auth.User) *auth.User {
	cp := *u
	if u.Email != nil {
		e := *u.Email
		cp.Email = &e
	}
	if u.AvatarURL != nil {
		a := *u.AvatarURL
		cp.AvatarURL = &a
	}
	if u.Phone != nil {
		p := *u.Phone
		cp.Phone = &p
	}
	if u.CreatedAt != nil {
		c := *u.CreatedAt
		cp.CreatedAt = &c
	}
	return &cp
}

func uniqueViolation(table, column string) error {
	return fmt.Errorf("UNIQUE constraint failed: %s.%s", table, column)
}

type users struct{ s *Store }

func (r *users) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	return r.GetByIDTx(ctx, nil, id)
}

func (r *users) GetByIDTx(_ context.Context, _ bun.IDB, id int64) (*auth.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.data.users[id]
	if !ok {
		return nil, auth.NewNotFoundError("user")
	}
	return copyUser(u), nil
}

func (r *users) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	return r.find(func(u *auth.User) bool { return u.Username == username })
}

func (r *users) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	return r.find(func(u *auth.User) bool { return u.Email != nil && *u.Email == email })
}

func (r *users) find(match func(u *auth.User) bool) (*auth.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.data.users {
		if match(u) {
			return copyUser(u), nil
		}
	}
	return nil, auth.NewNotFoundError("user")
}

// checkUnique must be called with the write lock held
func (r *users) checkUnique(user *auth.User) error {
	for id, u := range r.s.data.users {
		if id == user.ID {
			continue
		}
		if u.Username == user.Username {
			return uniqueViolation("users", "username")
		}
		if user.Email != nil && u.Email != nil && strings.EqualFold(*u.Email, *user.Email) {
			return uniqueViolation("users", "email")
		}
	}
	return nil
}

func (r *users) CreateTx(_ context.Context, _ bun.IDB, user *auth.User) (*auth.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.checkUnique(user); err != nil {
		return nil, err
	}
	user.ID = r.s.data.next()
	if user.Role == "" {
		user.Role = auth.RoleUser
	}
	if user.CreatedAt == nil {
		now := r.s.now().UTC()
		user.CreatedAt = &now
	}
	r.s.data.users[user.ID] = copyUser(user)
	return user, nil
}

func (r *users) UpdateTx(_ context.Context, _ bun.IDB, user *auth.User) (*auth.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.data.users[user.ID]
	if !ok {
		return nil, auth.NewNotFoundError("user")
	}
	if err := r.checkUnique(user); err != nil {
		return nil, err
	}
	next := copyUser(user)
	next.PasswordHash = current.PasswordHash
	next.CreatedAt = current.CreatedAt
	r.s.data.users[user.ID] = next
	return user, nil
}

func (r *users) mutate(id int64, f func(u *auth.User)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.data.users[id]
	if !ok {
		return auth.NewNotFoundError("user")
	}
	f(u)
	return nil
}

func (r *users) UpdatePasswordTx(_ context.Context, _ bun.IDB, id int64, passwordHash string) error {
	return r.mutate(id, func(u *auth.User) { u.PasswordHash = passwordHash })
}

func (r *users) MarkEmailVerifiedTx(_ context.Context, _ bun.IDB, id int64) error {
	return r.mutate(id, func(u *auth.User) { u.EmailVerified = true })
}

func (r *users) UpdateAvatar(_ context.Context, id int64, avatarURL string) (*auth.User, error) {
	defer r.s.lockWrite()()
	u, ok := r.s.data.users[id]
	if !ok {
		return nil, auth.NewNotFoundError("user")
	}
	u.AvatarURL = &avatarURL
	return copyUser(u), nil
}

func (r *users) DeleteTx(_ context.Context, _ bun.IDB, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.users[id]; !ok {
		return auth.NewNotFoundError("user")
	}
	delete(r.s.data.users, id)
	return nil
}

func (r *users) Stats(_ context.Context, since time.Time) (*auth.UserStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	stats := &auth.UserStats{}
	for _, u := range r.s.data.users {
		stats.TotalUsers++
		if u.IsAdmin() {
			stats.AdminUsers++
		}
		if u.CreatedAt != nil && !u.CreatedAt.Before(since) {
			stats.NewToday++
		}
	}
	return stats, nil
}

type refreshTokens struct{ s *Store }

func (r *refreshTokens) CreateTx(_ context.Context, _ bun.IDB, token *auth.RefreshToken) (*auth.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.data.refreshTokens {
		if t.Token == token.Token {
			return nil, uniqueViolation("refresh_tokens", "token")
		}
	}
	token.ID = r.s.data.next()
	cp := *token
	r.s.data.refreshTokens[token.ID] = &cp
	return token, nil
}

func (r *refreshTokens) GetByTokenTx(_ context.Context, _ bun.IDB, token string) (*auth.RefreshToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, t := range r.s.data.refreshTokens {
		if t.Token == token {
			cp := *t
			return &cp, nil
		}
	}
	return nil, auth.NewNotFoundError("refresh token")
}

func (r *refreshTokens) MarkUsedTx(_ context.Context, _ bun.IDB, id int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.data.refreshTokens[id]
	if !ok || t.Used {
		return false, nil
	}
	t.Used = true
	return true, nil
}

func (r *refreshTokens) DeleteByUserTx(_ context.Context, _ bun.IDB, userID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, t := range r.s.data.refreshTokens {
		if t.UserID == userID {
			delete(r.s.data.refreshTokens, id)
			n++
		}
	}
	return n, nil
}

func (r *refreshTokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	defer r.s.lockWrite()()
	var n int64
	for id, t := range r.s.data.refreshTokens {
		if t.IsExpired(now) {
			delete(r.s.data.refreshTokens, id)
			n++
		}
	}
	return n, nil
}

type oneTimeTokens struct{ s *Store }

func (r *oneTimeTokens) CreateTx(_ context.Context, _ bun.IDB, token *auth.OneTimeToken) (*auth.OneTimeToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.data.oneTimeTokens {
		if t.Token == token.Token {
			return nil, uniqueViolation("one_time_tokens", "token")
		}
	}
	token.ID = r.s.data.next()
	cp := *token
	r.s.data.oneTimeTokens[token.ID] = &cp
	return token, nil
}

func (r *oneTimeTokens) GetByTokenTx(_ context.Context, _ bun.IDB, token string) (*auth.OneTimeToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, t := range r.s.data.oneTimeTokens {
		if t.Token == token {
			cp := *t
			return &cp, nil
		}
	}
	return nil, auth.NewNotFoundError("token")
}

func (r *oneTimeTokens) MarkUsedTx(_ context.Context, _ bun.IDB, id int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.data.oneTimeTokens[id]
	if !ok || t.Used {
		return false, nil
	}
	t.Used = true
	return true, nil
}

func (r *oneTimeTokens) DeleteByUserTx(_ context.Context, _ bun.IDB, userID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, t := range r.s.data.oneTimeTokens {
		if t.UserID == userID {
			delete(r.s.data.oneTimeTokens, id)
			n++
		}
	}
	return n, nil
}

func (r *oneTimeTokens) RevokeByUserTx(_ context.Context, _ bun.IDB, userID int64, purpose auth.TokenPurpose) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, t := range r.s.data.oneTimeTokens {
		if t.UserID == userID && t.Purpose == purpose && !t.Used {
			t.Used = true
			n++
		}
	}
	return n, nil
}

type auditLogs struct{ s *Store }

func (r *auditLogs) CreateTx(_ context.Context, _ bun.IDB, entry *auth.AuditLog) (*auth.AuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailAuditWrites {
		return nil, fmt.Errorf("audit_logs: disk I/O error")
	}
	entry.ID = r.s.data.next()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.s.now().UTC()
	}
	cp := *entry
	r.s.data.auditLogs = append(r.s.data.auditLogs, &cp)
	return entry, nil
}

func (r *auditLogs) List(_ context.Context, limit, offset int) ([]*auth.AuditLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*auth.AuditLog, 0, len(r.s.data.auditLogs))
	for i := len(r.s.data.auditLogs) - 1; i >= 0; i-- {
		cp := *r.s.data.auditLogs[i]
		out = append(out, &cp)
	}
	if offset >= len(out) {
		return []*auth.AuditLog{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

type roles struct{ s *Store }

func (r *roles) ListRoles(_ context.Context) ([]*auth.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*auth.Role, 0, len(r.s.data.roles))
	for _, role := range r.s.data.roles {
		cp := *role
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *roles) GetRole(_ context.Context, id int64) (*auth.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	role, ok := r.s.data.roles[id]
	if !ok {
		return nil, auth.NewNotFoundError("role")
	}
	cp := *role
	return &cp, nil
}

func (r *roles) roleNameTaken(name string, except int64) bool {
	for id, role := range r.s.data.roles {
		if id != except && role.Name == name {
			return true
		}
	}
	return false
}

func (r *roles) CreateRole(_ context.Context, role *auth.Role) (*auth.Role, error) {
	defer r.s.lockWrite()()
	if r.roleNameTaken(role.Name, 0) {
		return nil, uniqueViolation("roles", "name")
	}
	role.ID = r.s.data.next()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = r.s.now().UTC()
	}
	cp := *role
	r.s.data.roles[role.ID] = &cp
	return role, nil
}

func (r *roles) UpdateRole(_ context.Context, role *auth.Role) (*auth.Role, error) {
	defer r.s.lockWrite()()
	if _, ok := r.s.data.roles[role.ID]; !ok {
		return nil, auth.NewNotFoundError("role")
	}
	if r.roleNameTaken(role.Name, role.ID) {
		return nil, uniqueViolation("roles", "name")
	}
	cp := *role
	r.s.data.roles[role.ID] = &cp
	return role, nil
}

func (r *roles) DeleteRole(_ context.Context, id int64) error {
	defer r.s.lockWrite()()
	if _, ok := r.s.data.roles[id]; !ok {
		return auth.NewNotFoundError("role")
	}
	delete(r.s.data.roles, id)
	kept := r.s.data.rolePerms[:0]
	for _, rp := range r.s.data.rolePerms {
		if rp.RoleID != id {
			kept = append(kept, rp)
		}
	}
	r.s.data.rolePerms = kept
	return nil
}

func (r *roles) ListPermissions(_ context.Context) ([]*auth.Permission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*auth.Permission, 0, len(r.s.data.permissions))
	for _, p := range r.s.data.permissions {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AddPermission stores a permission, optionally granted to roleIDs
func (s *Store) AddPermission(name string, roleIDs ...int64) *auth.Permission {
	defer s.lockWrite()()
	p := &auth.Permission{ID: s.data.next(), Name: name}
	s.data.permissions[p.ID] = p
	for _, roleID := range roleIDs {
		s.data.rolePerms = append(s.data.rolePerms, &auth.RolePermission{RoleID: roleID, PermissionID: p.ID})
	}
	cp := *p
	return &cp
}

func (r *roles) UpdatePermission(_ context.Context, permission *auth.Permission) (*auth.Permission, error) {
	defer r.s.lockWrite()()
	if _, ok := r.s.data.permissions[permission.ID]; !ok {
		return nil, auth.NewNotFoundError("permission")
	}
	for id, p := range r.s.data.permissions {
		if id != permission.ID && p.Name == permission.Name {
			return nil, uniqueViolation("permissions", "name")
		}
	}
	cp := *permission
	r.s.data.permissions[permission.ID] = &cp
	return permission, nil
}

func (r *roles) ListRolePermissions(_ context.Context) ([]*auth.RolePermission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*auth.RolePermission, 0, len(r.s.data.rolePerms))
	for _, rp := range r.s.data.rolePerms {
		cp := *rp
		out = append(out, &cp)
	}
	return out, nil
}
