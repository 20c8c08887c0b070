package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/devrev/ringconductor/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// PostgresOptions configures the PostgreSQL store
type PostgresOptions struct {
	Host              string
	Port              int
	Database          string
	User              string
	Password          string
	MaxConnections    int
	MinConnections    int
	ConnectRetryLimit int
}

// PostgresStore implements Coordinator and Admin on PostgreSQL
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects to PostgreSQL, retrying with exponential backoff,
// and applies the schema
func NewPostgresStore(ctx context.Context, opts PostgresOptions, logger *zap.Logger) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		opts.Host, opts.Port, opts.Database, opts.User, opts.Password, opts.MaxConnections, opts.MinConnections,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	retry := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(opts.ConnectRetryLimit)),
		ctx,
	)
	err = backoff.RetryNotify(func() error {
		return pool.Ping(ctx)
	}, retry, func(err error, wait time.Duration) {
		logger.Warn("PostgreSQL not reachable, retrying",
			zap.String("host", opts.Host),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger,
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the tables used by the store if they are missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// GetRingGroup reads a consistent snapshot of the ring group
func (s *PostgresStore) GetRingGroup(ctx context.Context, name string) (*model.RingGroup, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	group := &model.RingGroup{
		Name:     name,
		Versions: make(map[int]*model.DomainGroupVersion),
	}

	var token *string
	var mode string
	err = tx.QueryRow(ctx, `
		SELECT current_version, updating_to_version, conductor_token, conductor_mode
		FROM ring_groups
		WHERE name = $1
	`, name).Scan(&group.CurrentVersion, &group.UpdatingToVersion, &token, &mode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ring group %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ring group: %w", err)
	}
	group.ConductorClaimed = token != nil
	group.ConductorMode = model.ConductorModeInactive
	if group.ConductorClaimed {
		group.ConductorMode = model.ConductorMode(mode)
	}

	if err := s.loadVersions(ctx, tx, group); err != nil {
		return nil, err
	}
	if err := s.loadRings(ctx, tx, group); err != nil {
		return nil, err
	}
	hosts, err := s.loadHosts(ctx, tx, group)
	if err != nil {
		return nil, err
	}
	if err := s.loadHostDomainVersions(ctx, tx, name, hosts); err != nil {
		return nil, err
	}
	if err := s.loadCommandQueues(ctx, tx, name, hosts); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to close snapshot: %w", err)
	}
	return group, nil
}

func (s *PostgresStore) loadVersions(ctx context.Context, tx pgx.Tx, group *model.RingGroup) error {
	rows, err := tx.Query(ctx, `
		SELECT version_number, domain_versions
		FROM domain_group_versions
		WHERE ring_group = $1
	`, group.Name)
	if err != nil {
		return fmt.Errorf("failed to list domain group versions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		version := &model.DomainGroupVersion{}
		if err := rows.Scan(&version.Number, &version.DomainVersions); err != nil {
			return err
		}
		group.Versions[version.Number] = version
	}
	return rows.Err()
}

func (s *PostgresStore) loadRings(ctx context.Context, tx pgx.Tx, group *model.RingGroup) error {
	rows, err := tx.Query(ctx, `
		SELECT ring_number, state, current_version, updating_to_version
		FROM rings
		WHERE ring_group = $1
		ORDER BY ring_number
	`, group.Name)
	if err != nil {
		return fmt.Errorf("failed to list rings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ring model.Ring
		var state string
		if err := rows.Scan(&ring.Number, &state, &ring.CurrentVersion, &ring.UpdatingToVersion); err != nil {
			return err
		}
		ring.State = model.RingState(state)
		group.Rings = append(group.Rings, &ring)
	}
	return rows.Err()
}

func (s *PostgresStore) loadHosts(ctx context.Context, tx pgx.Tx, group *model.RingGroup) (map[string]*model.Host, error) {
	rows, err := tx.Query(ctx, `
		SELECT ring_number, address, state
		FROM hosts
		WHERE ring_group = $1
		ORDER BY ring_number, address
	`, group.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	hosts := make(map[string]*model.Host)
	for rows.Next() {
		var ringNumber int
		var state string
		host := &model.Host{DomainVersions: make(map[string]int)}
		if err := rows.Scan(&ringNumber, &host.Address, &state); err != nil {
			return nil, err
		}
		host.State = model.HostState(state)
		if ring := group.Ring(ringNumber); ring != nil {
			ring.Hosts = append(ring.Hosts, host)
		}
		hosts[host.Address] = host
	}
	return hosts, rows.Err()
}

func (s *PostgresStore) loadHostDomainVersions(ctx context.Context, tx pgx.Tx, ringGroup string, hosts map[string]*model.Host) error {
	rows, err := tx.Query(ctx, `
		SELECT address, domain, domain_version
		FROM host_domain_versions
		WHERE ring_group = $1
	`, ringGroup)
	if err != nil {
		return fmt.Errorf("failed to list host domain versions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var address, domain string
		var version int
		if err := rows.Scan(&address, &domain, &version); err != nil {
			return err
		}
		if host, ok := hosts[address]; ok {
			host.DomainVersions[domain] = version
		}
	}
	return rows.Err()
}

func (s *PostgresStore) loadCommandQueues(ctx context.Context, tx pgx.Tx, ringGroup string, hosts map[string]*model.Host) error {
	rows, err := tx.Query(ctx, `
		SELECT address, command
		FROM host_commands
		WHERE ring_group = $1
		ORDER BY id
	`, ringGroup)
	if err != nil {
		return fmt.Errorf("failed to list host commands: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var address, command string
		if err := rows.Scan(&address, &command); err != nil {
			return err
		}
		if host, ok := hosts[address]; ok {
			host.CommandQueue = append(host.CommandQueue, model.HostCommand(command))
		}
	}
	return rows.Err()
}

// ClaimConductor claims conductor status with a conditional update
func (s *PostgresStore) ClaimConductor(ctx context.Context, ringGroup string, mode model.ConductorMode) (*model.ConductorClaim, error) {
	claim := &model.ConductorClaim{
		RingGroup: ringGroup,
		Token:     uuid.New().String(),
		Mode:      mode,
		ClaimedAt: time.Now(),
	}

	result, err := s.pool.Exec(ctx, `
		UPDATE ring_groups
		SET conductor_token = $2, conductor_mode = $3, conductor_claimed_at = $4, updated_at = NOW()
		WHERE name = $1 AND conductor_token IS NULL
	`, ringGroup, claim.Token, string(mode), claim.ClaimedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to claim conductor: %w", err)
	}

	if result.RowsAffected() == 0 {
		if err := s.ringGroupExists(ctx, ringGroup); err != nil {
			return nil, err
		}
		return nil, ErrConductorClaimed
	}

	return claim, nil
}

// ReleaseConductor clears the claim if it still carries the caller's token
func (s *PostgresStore) ReleaseConductor(ctx context.Context, claim *model.ConductorClaim) error {
	if claim == nil {
		return ErrClaimNotHeld
	}

	result, err := s.pool.Exec(ctx, `
		UPDATE ring_groups
		SET conductor_token = NULL, conductor_mode = $3, conductor_claimed_at = NULL, updated_at = NOW()
		WHERE name = $1 AND conductor_token = $2
	`, claim.RingGroup, claim.Token, string(model.ConductorModeInactive))
	if err != nil {
		return fmt.Errorf("failed to release conductor: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrClaimNotHeld
	}
	return nil
}

// SetConductorMode changes the mode of the live conductor
func (s *PostgresStore) SetConductorMode(ctx context.Context, ringGroup string, mode model.ConductorMode) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE ring_groups
		SET conductor_mode = $2, updated_at = NOW()
		WHERE name = $1 AND conductor_token IS NOT NULL
	`, ringGroup, string(mode))
	if err != nil {
		return fmt.Errorf("failed to set conductor mode: %w", err)
	}

	if result.RowsAffected() == 0 {
		if err := s.ringGroupExists(ctx, ringGroup); err != nil {
			return err
		}
		return ErrClaimNotHeld
	}
	return nil
}

// SetRingState sets the state of a ring
func (s *PostgresStore) SetRingState(ctx context.Context, ringGroup string, ring int, state model.RingState) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE rings
		SET state = $3, updated_at = NOW()
		WHERE ring_group = $1 AND ring_number = $2
	`, ringGroup, ring, string(state))
	if err != nil {
		return fmt.Errorf("failed to set ring state: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("ring %d of ring group %s: %w", ring, ringGroup, ErrNotFound)
	}
	return nil
}

// EnqueueCommand appends a command to a host's queue
func (s *PostgresStore) EnqueueCommand(ctx context.Context, ringGroup string, ring int, host string, cmd model.HostCommand) error {
	result, err := s.pool.Exec(ctx, `
		INSERT INTO host_commands (ring_group, address, command)
		SELECT $1, $3, $4
		WHERE EXISTS (
			SELECT 1 FROM hosts WHERE ring_group = $1 AND ring_number = $2 AND address = $3
		)
	`, ringGroup, ring, host, string(cmd))
	if err != nil {
		return fmt.Errorf("failed to enqueue command: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("host %s in ring %d of ring group %s: %w", host, ring, ringGroup, ErrNotFound)
	}
	return nil
}

// MarkRingUpdateComplete adopts the ring's updating-to version as current
func (s *PostgresStore) MarkRingUpdateComplete(ctx context.Context, ringGroup string, ring int) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE rings
		SET current_version = COALESCE(updating_to_version, current_version),
		    updating_to_version = NULL,
		    updated_at = NOW()
		WHERE ring_group = $1 AND ring_number = $2
	`, ringGroup, ring)
	if err != nil {
		return fmt.Errorf("failed to mark ring update complete: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("ring %d of ring group %s: %w", ring, ringGroup, ErrNotFound)
	}
	return nil
}

// MarkRingGroupUpdateComplete adopts the group's updating-to version as current
func (s *PostgresStore) MarkRingGroupUpdateComplete(ctx context.Context, ringGroup string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE ring_groups
		SET current_version = COALESCE(updating_to_version, current_version),
		    updating_to_version = NULL,
		    updated_at = NOW()
		WHERE name = $1
	`, ringGroup)
	if err != nil {
		return fmt.Errorf("failed to mark ring group update complete: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("ring group %s: %w", ringGroup, ErrNotFound)
	}
	return nil
}

// AddRingGroup creates an empty ring group
func (s *PostgresStore) AddRingGroup(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO ring_groups (name) VALUES ($1)`, name)
	if err != nil {
		return fmt.Errorf("failed to add ring group: %w", err)
	}
	return nil
}

// AddRing appends a ring numbered after the last existing ring
func (s *PostgresStore) AddRing(ctx context.Context, ringGroup string) (int, error) {
	var number int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rings (ring_group, ring_number, state, current_version)
		SELECT g.name,
		       COALESCE((SELECT MAX(ring_number) FROM rings WHERE ring_group = g.name), 0) + 1,
		       $2,
		       g.current_version
		FROM ring_groups g
		WHERE g.name = $1
		RETURNING ring_number
	`, ringGroup, string(model.RingStateOpen)).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("ring group %s: %w", ringGroup, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to add ring: %w", err)
	}
	return number, nil
}

// AddHost adds an idle host to a ring
func (s *PostgresStore) AddHost(ctx context.Context, ringGroup string, ring int, address string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO hosts (ring_group, ring_number, address, state)
		VALUES ($1, $2, $3, $4)
	`, ringGroup, ring, address, string(model.HostStateIdle))
	if err != nil {
		return fmt.Errorf("failed to add host: %w", err)
	}
	return nil
}

// AddDomainGroupVersion registers a version the group can be updated to
func (s *PostgresStore) AddDomainGroupVersion(ctx context.Context, ringGroup string, version *model.DomainGroupVersion) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO domain_group_versions (ring_group, version_number, domain_versions)
		VALUES ($1, $2, $3)
	`, ringGroup, version.Number, version.DomainVersions)
	if err != nil {
		return fmt.Errorf("failed to add domain group version: %w", err)
	}
	return nil
}

// StartUpdate marks the group and each of its rings as updating to version
func (s *PostgresStore) StartUpdate(ctx context.Context, ringGroup string, version int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE ring_groups g
		SET updating_to_version = $2, updated_at = NOW()
		WHERE g.name = $1
		  AND EXISTS (SELECT 1 FROM domain_group_versions v WHERE v.ring_group = g.name AND v.version_number = $2)
	`, ringGroup, version)
	if err != nil {
		return fmt.Errorf("failed to start update: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("version %d of ring group %s: %w", version, ringGroup, ErrNotFound)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE rings SET updating_to_version = $2, updated_at = NOW() WHERE ring_group = $1
	`, ringGroup, version); err != nil {
		return fmt.Errorf("failed to start ring updates: %w", err)
	}

	return tx.Commit(ctx)
}

// SetHostState records the state a host reports
func (s *PostgresStore) SetHostState(ctx context.Context, ringGroup string, ring int, host string, state model.HostState) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE hosts
		SET state = $4, updated_at = NOW()
		WHERE ring_group = $1 AND ring_number = $2 AND address = $3
	`, ringGroup, ring, host, string(state))
	if err != nil {
		return fmt.Errorf("failed to set host state: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("host %s in ring %d of ring group %s: %w", host, ring, ringGroup, ErrNotFound)
	}
	return nil
}

// SetHostDomainVersion records the version of a domain a host serves
func (s *PostgresStore) SetHostDomainVersion(ctx context.Context, ringGroup string, ring int, host, domain string, version int) error {
	result, err := s.pool.Exec(ctx, `
		INSERT INTO host_domain_versions (ring_group, address, domain, domain_version)
		SELECT $1, $3, $4, $5
		WHERE EXISTS (
			SELECT 1 FROM hosts WHERE ring_group = $1 AND ring_number = $2 AND address = $3
		)
		ON CONFLICT (ring_group, address, domain) DO UPDATE SET domain_version = EXCLUDED.domain_version
	`, ringGroup, ring, host, domain, version)
	if err != nil {
		return fmt.Errorf("failed to set host domain version: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("host %s in ring %d of ring group %s: %w", host, ring, ringGroup, ErrNotFound)
	}
	return nil
}

// DequeueCommand pops the oldest command from a host's queue
func (s *PostgresStore) DequeueCommand(ctx context.Context, ringGroup string, ring int, host string) (model.HostCommand, bool, error) {
	var command string
	err := s.pool.QueryRow(ctx, `
		DELETE FROM host_commands
		WHERE id = (
			SELECT c.id
			FROM host_commands c
			JOIN hosts h ON h.ring_group = c.ring_group AND h.address = c.address
			WHERE c.ring_group = $1 AND h.ring_number = $2 AND c.address = $3
			ORDER BY c.id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING command
	`, ringGroup, ring, host).Scan(&command)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to dequeue command: %w", err)
	}
	return model.HostCommand(command), true, nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) ringGroupExists(ctx context.Context, name string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ring_groups WHERE name = $1)`, name).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up ring group: %w", err)
	}
	if !exists {
		return fmt.Errorf("ring group %s: %w", name, ErrNotFound)
	}
	return nil
}
