package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/faceprofiles/internal/config"
	"github.com/your-org/faceprofiles/internal/faceprofile"
	"github.com/your-org/faceprofiles/internal/models"
)

const onePrimaryIndex = "uq_face_profiles_one_primary"

const profileColumns = `profile_id, user_id, company_id, embedding_version,
	COALESCE(enroll_image_path, ''), is_primary, quality_score, meta_data,
	created_at, updated_at, deleted_at, indexed, index_version`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreFromPool wraps an existing pool.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool exposes the underlying pool for migrations.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Reads ---

// ListActiveProfiles returns the user's non-deleted profiles, primary first, then newest first.
func (s *PostgresStore) ListActiveProfiles(ctx context.Context, userID, companyID uuid.UUID) ([]models.FaceProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+profileColumns+`
		 FROM face_profiles
		 WHERE company_id = $1 AND user_id = $2 AND deleted_at IS NULL
		 ORDER BY is_primary DESC, created_at DESC, profile_id`,
		companyID, userID)
	if err != nil {
		return nil, fmt.Errorf("list face profiles: %w", err)
	}
	defer rows.Close()

	profiles := []models.FaceProfile{}
	for rows.Next() {
		p, err := scanProfile(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan face profile: %w", err)
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list face profiles: %w", err)
	}
	return profiles, nil
}

// GetProfile returns a non-deleted profile including its embedding.
func (s *PostgresStore) GetProfile(ctx context.Context, profileID, companyID uuid.UUID) (*models.FaceProfile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+`, embedding
		 FROM face_profiles
		 WHERE profile_id = $1 AND company_id = $2 AND deleted_at IS NULL`,
		profileID, companyID), true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, faceprofile.NotFound("face profile")
		}
		return nil, fmt.Errorf("get face profile: %w", err)
	}
	return p, nil
}

// GetProfileAnyState returns a profile whether or not it was soft-deleted.
func (s *PostgresStore) GetProfileAnyState(ctx context.Context, profileID, companyID uuid.UUID) (*models.FaceProfile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+`, embedding
		 FROM face_profiles
		 WHERE profile_id = $1 AND company_id = $2`,
		profileID, companyID), true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, faceprofile.NotFound("face profile")
		}
		return nil, fmt.Errorf("get face profile: %w", err)
	}
	return p, nil
}

// --- Writes ---

// InsertProfile stores a new profile. When p.IsPrimary is set the user's
// current primary is cleared first, in the same transaction. maxActive > 0
// caps the user's active profiles; the count is taken under the user lock.
func (s *PostgresStore) InsertProfile(ctx context.Context, p *models.FaceProfile, maxActive int) error {
	if p.MetaData == nil {
		p.MetaData = map[string]string{}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin insert profile: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockUser(ctx, tx, p.UserID, p.CompanyID); err != nil {
		return err
	}
	if maxActive > 0 {
		var active int
		err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM face_profiles
			 WHERE company_id = $1 AND user_id = $2 AND deleted_at IS NULL`,
			p.CompanyID, p.UserID).Scan(&active)
		if err != nil {
			return fmt.Errorf("count active profiles: %w", err)
		}
		if active >= maxActive {
			return faceprofile.LimitReached(maxActive, active)
		}
	}
	if faceprofile.PlanEnroll(p.IsPrimary) == faceprofile.ActionPromote {
		if _, err := clearPrimary(ctx, tx, p.UserID, p.CompanyID); err != nil {
			return err
		}
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO face_profiles
		   (profile_id, user_id, company_id, embedding, embedding_version, enroll_image_path,
		    is_primary, quality_score, meta_data)
		 VALUES ($1, $2, $3, $4::vector, $5, NULLIF($6, ''), $7, $8, $9)
		 RETURNING created_at, updated_at, indexed, index_version`,
		p.ID, p.UserID, p.CompanyID, faceprofile.EmbeddingLiteral(p.Embedding), p.EmbeddingVersion,
		p.EnrollImagePath, p.IsPrimary, p.QualityScore, p.MetaData,
	).Scan(&p.CreatedAt, &p.UpdatedAt, &p.Indexed, &p.IndexVersion)
	if err != nil {
		return mapWriteError("insert face profile", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert profile: %w", err)
	}
	return nil
}

// SoftDeleteProfile marks an active profile deleted and returns its final state.
// The primary flag is kept on the retained row and nothing is repromoted.
func (s *PostgresStore) SoftDeleteProfile(ctx context.Context, profileID, companyID uuid.UUID) (*models.FaceProfile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`UPDATE face_profiles
		 SET deleted_at = now(), updated_at = now(), indexed = false
		 WHERE profile_id = $1 AND company_id = $2 AND deleted_at IS NULL
		 RETURNING `+profileColumns,
		profileID, companyID), false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, faceprofile.NotFound("face profile")
		}
		return nil, fmt.Errorf("soft delete face profile: %w", err)
	}
	return p, nil
}

// HardDeleteProfile physically removes a profile, soft-deleted or not.
func (s *PostgresStore) HardDeleteProfile(ctx context.Context, profileID, companyID uuid.UUID) (*models.FaceProfile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`DELETE FROM face_profiles
		 WHERE profile_id = $1 AND company_id = $2
		 RETURNING `+profileColumns,
		profileID, companyID), false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, faceprofile.NotFound("face profile")
		}
		return nil, fmt.Errorf("hard delete face profile: %w", err)
	}
	return p, nil
}

// SetPrimary applies an explicit primary transition. The target row and the
// user's current primaries are locked before the rule is evaluated, so two
// concurrent calls cannot both act on a stale count.
func (s *PostgresStore) SetPrimary(ctx context.Context, profileID, userID, companyID uuid.UUID, value bool) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin set primary: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockUser(ctx, tx, userID, companyID); err != nil {
		return false, err
	}

	target, err := scanProfile(tx.QueryRow(ctx,
		`SELECT `+profileColumns+`
		 FROM face_profiles
		 WHERE profile_id = $1 AND company_id = $2 AND deleted_at IS NULL
		 FOR UPDATE`,
		profileID, companyID), false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, faceprofile.NotFound("face profile")
		}
		return false, fmt.Errorf("load face profile: %w", err)
	}
	if target.UserID != userID {
		return false, faceprofile.NotFound("face profile")
	}

	var primaries int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM (
		   SELECT 1 FROM face_profiles
		   WHERE company_id = $1 AND user_id = $2 AND is_primary AND deleted_at IS NULL
		   FOR UPDATE
		 ) p`,
		companyID, userID).Scan(&primaries)
	if err != nil {
		return false, fmt.Errorf("count primary profiles: %w", err)
	}

	action, err := faceprofile.PlanSetPrimary(target, primaries, value)
	if err != nil {
		return false, err
	}

	switch action {
	case faceprofile.ActionNone:
		return false, nil
	case faceprofile.ActionPromote:
		if _, err := clearPrimary(ctx, tx, userID, companyID); err != nil {
			return false, err
		}
		if err := setPrimaryFlag(ctx, tx, profileID, companyID, true); err != nil {
			return false, err
		}
	case faceprofile.ActionDemote:
		if err := setPrimaryFlag(ctx, tx, profileID, companyID, false); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit set primary: %w", err)
	}
	return true, nil
}

// MarkIndexed records that the indexer has seen an active profile at
// indexVersion. The hnsw index itself picks rows up on insert. It reports
// false when the profile is gone, has no embedding, or is already recorded
// at that version.
func (s *PostgresStore) MarkIndexed(ctx context.Context, profileID, companyID uuid.UUID, indexVersion int) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE face_profiles SET indexed = true, index_version = $3
		 WHERE profile_id = $1 AND company_id = $2 AND deleted_at IS NULL
		   AND embedding IS NOT NULL
		   AND NOT (indexed AND index_version = $3)`,
		profileID, companyID, indexVersion)
	if err != nil {
		return false, fmt.Errorf("mark profile indexed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Primary transition helpers ---

// lockUser serializes primary-mutating transactions of one (user, company).
// Different users hash to different keys and never wait on each other.
func lockUser(ctx context.Context, tx pgx.Tx, userID, companyID uuid.UUID) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		companyID.String()+":"+userID.String())
	if err != nil {
		return fmt.Errorf("lock user profiles: %w", err)
	}
	return nil
}

func clearPrimary(ctx context.Context, tx pgx.Tx, userID, companyID uuid.UUID) (int64, error) {
	tag, err := tx.Exec(ctx,
		`UPDATE face_profiles SET is_primary = false, updated_at = now()
		 WHERE company_id = $1 AND user_id = $2 AND is_primary AND deleted_at IS NULL`,
		companyID, userID)
	if err != nil {
		return 0, fmt.Errorf("clear primary profile: %w", err)
	}
	return tag.RowsAffected(), nil
}

func setPrimaryFlag(ctx context.Context, tx pgx.Tx, profileID, companyID uuid.UUID, value bool) error {
	_, err := tx.Exec(ctx,
		`UPDATE face_profiles SET is_primary = $3, updated_at = now()
		 WHERE profile_id = $1 AND company_id = $2`,
		profileID, companyID, value)
	if err != nil {
		return mapWriteError("set primary flag", err)
	}
	return nil
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		if pgErr.ConstraintName == onePrimaryIndex {
			return fmt.Errorf("%s: second active primary rejected: %w", op, err)
		}
		return faceprofile.ProfileExists(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func scanProfile(row pgx.Row, withEmbedding bool) (*models.FaceProfile, error) {
	p := &models.FaceProfile{}
	dest := []any{
		&p.ID, &p.UserID, &p.CompanyID, &p.EmbeddingVersion,
		&p.EnrollImagePath, &p.IsPrimary, &p.QualityScore, &p.MetaData,
		&p.CreatedAt, &p.UpdatedAt, &p.DeletedAt, &p.Indexed, &p.IndexVersion,
	}
	var vec pgvector.Vector
	if withEmbedding {
		dest = append(dest, &vec)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if withEmbedding {
		p.Embedding = vec.Slice()
	}
	return p, nil
}
