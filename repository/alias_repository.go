package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"

	"github.com/camden-git/supplierresolver/database"
	apperrors "github.com/camden-git/supplierresolver/errors"
	"github.com/camden-git/supplierresolver/models"
	"github.com/camden-git/supplierresolver/similarity"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// AliasInput describes one observation of an alias.
type AliasInput struct {
	Text          string
	Source        string
	NormalizedKey string
	BlockingKey   string
	SupplierID    uint
	Confidence    float64
}

// AliasRepository is the persistent alias → supplier mapping.
type AliasRepository struct {
	DB    *gorm.DB
	Retry database.RetryConfig
}

// NewAliasRepository creates a new instance of AliasRepository
func NewAliasRepository(db *gorm.DB, retry database.RetryConfig) *AliasRepository {
	return &AliasRepository{DB: db, Retry: retry}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Upsert records an observation of (text, source) for a supplier.
//
// An existing confirmed row keeps max(stored, confidence) and is never
// repointed: if it resolves to a different live supplier than requested the
// call fails with AliasConflictError. A pending row also conflicts. A missing
// row is inserted. The read and the write share one immediate transaction; a
// unique violation from a concurrent insert re-runs it once so the loser takes
// the update path.
func (r *AliasRepository) Upsert(ctx context.Context, in AliasInput) (*models.Alias, error) {
	in.Confidence = clampConfidence(in.Confidence)

	var alias models.Alias
	run := func() error {
		return database.WithRetry(ctx, r.Retry, "upsert alias", func() error {
			return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				requested, err := resolveLive(tx, in.SupplierID)
				if err != nil {
					return err
				}

				var existing models.Alias
				err = tx.Where("text = ? AND source = ?", in.Text, in.Source).First(&existing).Error
				if errors.Is(err, gorm.ErrRecordNotFound) {
					now := nowMillis()
					alias = models.Alias{
						SupplierID:    &requested,
						Text:          in.Text,
						Source:        in.Source,
						NormalizedKey: in.NormalizedKey,
						BlockingKey:   in.BlockingKey,
						Confidence:    in.Confidence,
						Status:        models.AliasConfirmed,
						CreatedAt:     now,
						UpdatedAt:     now,
					}
					if err := tx.Create(&alias).Error; err != nil {
						return fmt.Errorf("failed to insert alias %q from %s: %w", in.Text, in.Source, err)
					}
					return nil
				}
				if err != nil {
					return fmt.Errorf("failed to look up alias %q from %s: %w", in.Text, in.Source, err)
				}

				if existing.IsPending() || existing.SupplierID == nil {
					conflict := apperrors.NewAliasConflictError(in.Text, in.Source, 0, requested)
					conflict.Reason = "pending review"
					return conflict
				}
				owner, err := resolveLive(tx, *existing.SupplierID)
				if err != nil {
					return err
				}
				if owner != requested {
					return apperrors.NewAliasConflictError(in.Text, in.Source, owner, requested)
				}

				updates := map[string]interface{}{"supplier_id": owner}
				if in.Confidence > existing.Confidence {
					updates["confidence"] = in.Confidence
				}
				if owner != *existing.SupplierID || in.Confidence > existing.Confidence {
					updates["updated_at"] = nowMillis()
					if err := tx.Model(&existing).Updates(updates).Error; err != nil {
						return fmt.Errorf("failed to update alias %d: %w", existing.ID, err)
					}
				}
				return tx.First(&alias, existing.ID).Error
			})
		})
	}

	err := run()
	if database.IsUniqueViolation(err) {
		err = run()
	}
	if err != nil {
		return nil, err
	}
	return &alias, nil
}

// CreatePending stores a pending alias awaiting review. candidateID may be 0
// when nothing scored above the floor (e.g. the name normalized to nothing).
// If (text, source) already exists the stored row is returned with created=false.
func (r *AliasRepository) CreatePending(ctx context.Context, in AliasInput, candidateID uint) (*models.Alias, bool, error) {
	var alias models.Alias
	created := false
	run := func() error {
		return database.WithRetry(ctx, r.Retry, "create pending alias", func() error {
			created = false
			return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				err := tx.Where("text = ? AND source = ?", in.Text, in.Source).First(&alias).Error
				if err == nil {
					return nil
				}
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("failed to look up alias %q from %s: %w", in.Text, in.Source, err)
				}

				var candidate *uint
				if candidateID != 0 {
					live, err := resolveLive(tx, candidateID)
					if err != nil {
						return err
					}
					candidate = &live
				}
				now := nowMillis()
				alias = models.Alias{
					CandidateSupplierID: candidate,
					Text:                in.Text,
					Source:              in.Source,
					NormalizedKey:       in.NormalizedKey,
					BlockingKey:         in.BlockingKey,
					Confidence:          clampConfidence(in.Confidence),
					Status:              models.AliasPending,
					CreatedAt:           now,
					UpdatedAt:           now,
				}
				if err := tx.Create(&alias).Error; err != nil {
					return fmt.Errorf("failed to insert pending alias %q from %s: %w", in.Text, in.Source, err)
				}
				created = true
				return nil
			})
		})
	}

	err := run()
	if database.IsUniqueViolation(err) {
		err = run()
	}
	if err != nil {
		return nil, false, err
	}
	return &alias, created, nil
}

// CreateWithNewSupplier creates a supplier named name and its first confirmed
// alias atomically. If (text, source) was taken in the meantime nothing is
// written and the stored alias is returned with created=false.
func (r *AliasRepository) CreateWithNewSupplier(ctx context.Context, name string, in AliasInput) (*models.Supplier, *models.Alias, bool, error) {
	var (
		supplier models.Supplier
		alias    models.Alias
		created  bool
	)
	run := func() error {
		return database.WithRetry(ctx, r.Retry, "create supplier with alias", func() error {
			created = false
			return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				err := tx.Where("text = ? AND source = ?", in.Text, in.Source).First(&alias).Error
				if err == nil {
					return nil
				}
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("failed to look up alias %q from %s: %w", in.Text, in.Source, err)
				}

				now := nowMillis()
				supplier = models.Supplier{Name: name, CreatedAt: now, UpdatedAt: now, Active: true}
				if err := tx.Create(&supplier).Error; err != nil {
					return fmt.Errorf("failed to create supplier %s: %w", name, err)
				}
				alias = models.Alias{
					SupplierID:    &supplier.ID,
					Text:          in.Text,
					Source:        in.Source,
					NormalizedKey: in.NormalizedKey,
					BlockingKey:   in.BlockingKey,
					Confidence:    clampConfidence(in.Confidence),
					Status:        models.AliasConfirmed,
					CreatedAt:     now,
					UpdatedAt:     now,
				}
				if err := tx.Create(&alias).Error; err != nil {
					return fmt.Errorf("failed to insert alias %q from %s: %w", in.Text, in.Source, err)
				}
				created = true
				return nil
			})
		})
	}

	err := run()
	if database.IsUniqueViolation(err) {
		err = run()
	}
	if err != nil {
		return nil, nil, false, err
	}
	if !created {
		return nil, &alias, false, nil
	}
	return &supplier, &alias, true, nil
}

// GetByID retrieves an alias by its ID.
func (r *AliasRepository) GetByID(ctx context.Context, id uint) (*models.Alias, error) {
	var alias models.Alias
	err := r.DB.WithContext(ctx).First(&alias, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("alias", id)
		}
		return nil, fmt.Errorf("failed to get alias by ID %d: %w", id, err)
	}
	return &alias, nil
}

// FindByTextSource returns the alias stored for (text, source), or NotFoundError.
func (r *AliasRepository) FindByTextSource(ctx context.Context, text, source string) (*models.Alias, error) {
	var alias models.Alias
	err := r.DB.WithContext(ctx).Where("text = ? AND source = ?", text, source).First(&alias).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &apperrors.NotFoundError{Resource: "alias", ID: source + ":" + text}
		}
		return nil, fmt.Errorf("failed to find alias %q from %s: %w", text, source, err)
	}
	return &alias, nil
}

// FindConfirmedByKey returns confirmed aliases whose normalized key equals key,
// oldest first.
func (r *AliasRepository) FindConfirmedByKey(ctx context.Context, key string) ([]models.Alias, error) {
	var aliases []models.Alias
	err := r.DB.WithContext(ctx).
		Where("normalized_key = ? AND status = ?", key, models.AliasConfirmed).
		Order("created_at ASC, id ASC").
		Find(&aliases).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find aliases with key %q: %w", key, err)
	}
	return aliases, nil
}

// ListBySupplier retrieves the confirmed aliases of the live owner of supplierID.
func (r *AliasRepository) ListBySupplier(ctx context.Context, supplierID uint) ([]models.Alias, error) {
	var aliases []models.Alias
	err := database.WithRetry(ctx, r.Retry, "list aliases", func() error {
		return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			live, err := resolveLive(tx, supplierID)
			if err != nil {
				return err
			}
			return tx.Where("supplier_id = ? AND status = ?", live, models.AliasConfirmed).
				Order("text ASC, source ASC").
				Find(&aliases).Error
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases for supplier %d: %w", supplierID, err)
	}
	return aliases, nil
}

// CountConfirmed returns the number of confirmed aliases in the store.
func (r *AliasRepository) CountConfirmed(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.Alias{}).Where("status = ?", models.AliasConfirmed).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count aliases: %w", err)
	}
	return n, nil
}

type candidateRow struct {
	SupplierID    uint
	NormalizedKey string
	CreatedAt     int64
	AliasCount    int
}

// FindCandidateSet returns one candidate per distinct (live supplier,
// normalized key) among confirmed aliases, with the supplier's alias count and
// creation time for tie-breaking. A blank blockingKey returns the full set.
func (r *AliasRepository) FindCandidateSet(ctx context.Context, blockingKey string) ([]similarity.Candidate, error) {
	counts := psql.Select("supplier_id", "COUNT(*) AS alias_count").
		From("aliases").
		Where(sq.Eq{"status": string(models.AliasConfirmed)}).
		GroupBy("supplier_id")

	query := psql.Select("a.supplier_id", "a.normalized_key", "s.created_at", "c.alias_count").
		From("aliases a").
		Join("suppliers s ON s.id = a.supplier_id").
		JoinClause(counts.Prefix("JOIN (").Suffix(") c ON c.supplier_id = a.supplier_id")).
		Where(sq.Eq{"a.status": string(models.AliasConfirmed), "s.active": true}).
		GroupBy("a.supplier_id", "a.normalized_key", "s.created_at", "c.alias_count").
		OrderBy("a.supplier_id ASC", "a.normalized_key ASC")
	if blockingKey != "" {
		query = query.Where(sq.Eq{"a.blocking_key": blockingKey})
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query for FindCandidateSet: %w", err)
	}

	var rows []candidateRow
	if err := r.DB.WithContext(ctx).Raw(sqlStr, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load candidate set for block %q: %w", blockingKey, err)
	}

	candidates := make([]similarity.Candidate, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, similarity.Candidate{
			SupplierID:        row.SupplierID,
			Key:               row.NormalizedKey,
			AliasCount:        row.AliasCount,
			SupplierCreatedAt: row.CreatedAt,
		})
	}
	return candidates, nil
}

// SupplierPair is two live suppliers that share at least one normalized key.
type SupplierPair struct {
	A          uint
	B          uint
	SharedKeys int
}

// FindKeyOverlaps returns every pair of live suppliers whose confirmed aliases
// share a normalized key, with A < B.
func (r *AliasRepository) FindKeyOverlaps(ctx context.Context) ([]SupplierPair, error) {
	query := psql.Select("a1.supplier_id AS a", "a2.supplier_id AS b", "COUNT(DISTINCT a1.normalized_key) AS shared_keys").
		From("aliases a1").
		Join("aliases a2 ON a1.normalized_key = a2.normalized_key AND a1.supplier_id < a2.supplier_id").
		Join("suppliers s1 ON s1.id = a1.supplier_id").
		Join("suppliers s2 ON s2.id = a2.supplier_id").
		Where(sq.Eq{
			"a1.status": string(models.AliasConfirmed),
			"a2.status": string(models.AliasConfirmed),
			"s1.active": true,
			"s2.active": true,
		}).
		Where(sq.NotEq{"a1.normalized_key": ""}).
		GroupBy("a1.supplier_id", "a2.supplier_id").
		OrderBy("a1.supplier_id ASC", "a2.supplier_id ASC")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query for FindKeyOverlaps: %w", err)
	}

	var pairs []SupplierPair
	if err := r.DB.WithContext(ctx).Raw(sqlStr, args...).Scan(&pairs).Error; err != nil {
		return nil, fmt.Errorf("failed to load key overlaps: %w", err)
	}
	return pairs, nil
}

// ListPending returns pending aliases, oldest first.
func (r *AliasRepository) ListPending(ctx context.Context, limit, offset int) ([]models.Alias, error) {
	if limit <= 0 {
		limit = 50
	}
	var aliases []models.Alias
	err := r.DB.WithContext(ctx).
		Where("status = ?", models.AliasPending).
		Order("created_at ASC, id ASC").
		Limit(limit).Offset(offset).
		Find(&aliases).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending aliases: %w", err)
	}
	return aliases, nil
}

// ConfirmPending binds a pending alias to supplierID (resolved to its live
// owner), keeping the higher of the stored and given confidence, and resolves
// the linked records that were waiting on it.
func (r *AliasRepository) ConfirmPending(ctx context.Context, aliasID, supplierID uint, confidence float64) (*models.Alias, error) {
	var alias models.Alias
	err := database.WithRetry(ctx, r.Retry, "confirm pending alias", func() error {
		return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := loadPending(tx, aliasID, &alias); err != nil {
				return err
			}
			live, err := resolveLive(tx, supplierID)
			if err != nil {
				return err
			}
			return confirmTx(tx, &alias, live, confidence)
		})
	})
	if err != nil {
		return nil, err
	}
	return &alias, nil
}

// ConfirmPendingAsNewSupplier rejects the suggested match: a new supplier named
// name is created and the alias is confirmed under it at full confidence.
func (r *AliasRepository) ConfirmPendingAsNewSupplier(ctx context.Context, aliasID uint, name string) (*models.Supplier, *models.Alias, error) {
	var (
		alias    models.Alias
		supplier models.Supplier
	)
	err := database.WithRetry(ctx, r.Retry, "reject pending alias", func() error {
		return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := loadPending(tx, aliasID, &alias); err != nil {
				return err
			}
			if name == "" {
				name = alias.Text
			}
			now := nowMillis()
			supplier = models.Supplier{Name: name, CreatedAt: now, UpdatedAt: now, Active: true}
			if err := tx.Create(&supplier).Error; err != nil {
				return fmt.Errorf("failed to create supplier %s: %w", name, err)
			}
			return confirmTx(tx, &alias, supplier.ID, 1.0)
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return &supplier, &alias, nil
}

func loadPending(tx *gorm.DB, aliasID uint, alias *models.Alias) error {
	err := tx.First(alias, aliasID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NewNotFoundError("alias", aliasID)
		}
		return fmt.Errorf("failed to load alias %d: %w", aliasID, err)
	}
	if !alias.IsPending() {
		conflict := apperrors.NewAliasConflictError(alias.Text, alias.Source, 0, 0)
		conflict.Reason = "alias is not pending review"
		if alias.SupplierID != nil {
			conflict.ExistingSupplierID = *alias.SupplierID
		}
		return conflict
	}
	return nil
}

func confirmTx(tx *gorm.DB, alias *models.Alias, supplierID uint, confidence float64) error {
	now := nowMillis()
	conf := clampConfidence(confidence)
	if alias.Confidence > conf {
		conf = alias.Confidence
	}
	err := tx.Model(alias).Updates(map[string]interface{}{
		"supplier_id":           supplierID,
		"candidate_supplier_id": nil,
		"status":                models.AliasConfirmed,
		"confidence":            conf,
		"updated_at":            now,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to confirm alias %d: %w", alias.ID, err)
	}
	err = tx.Model(&models.LinkedRecord{}).Where("pending_alias_id = ?", alias.ID).Updates(map[string]interface{}{
		"supplier_id":      supplierID,
		"pending_alias_id": nil,
		"updated_at":       now,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to resolve records waiting on alias %d: %w", alias.ID, err)
	}
	return tx.First(alias, alias.ID).Error
}

// Reassign is the administrative correction that moves a confirmed alias to
// another supplier. Ordinary ingestion never repoints aliases.
func (r *AliasRepository) Reassign(ctx context.Context, aliasID, supplierID uint) (*models.Alias, error) {
	var alias models.Alias
	err := database.WithRetry(ctx, r.Retry, "reassign alias", func() error {
		return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.First(&alias, aliasID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperrors.NewNotFoundError("alias", aliasID)
				}
				return fmt.Errorf("failed to load alias %d: %w", aliasID, err)
			}
			live, err := resolveLive(tx, supplierID)
			if err != nil {
				return err
			}
			if alias.IsPending() {
				return confirmTx(tx, &alias, live, alias.Confidence)
			}
			err = tx.Model(&alias).Updates(map[string]interface{}{
				"supplier_id": live,
				"updated_at":  nowMillis(),
			}).Error
			if err != nil {
				return fmt.Errorf("failed to reassign alias %d: %w", aliasID, err)
			}
			return tx.First(&alias, aliasID).Error
		})
	})
	if err != nil {
		return nil, err
	}
	return &alias, nil
}

// KeyFunc derives the stored comparison keys for an alias text.
type KeyFunc func(text string) (normalizedKey, blockingKey string)

// Rekey recomputes normalized and blocking keys for every alias, walking the
// table in id order batchSize rows at a time. Keys are written when alias
// rows are created, so this must run after the suffix rules or the blocking
// prefix length change. It returns the number of rows whose keys changed.
func (r *AliasRepository) Rekey(ctx context.Context, keys KeyFunc, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	var lastID uint
	updated := 0
	for {
		var batch []models.Alias
		err := r.DB.WithContext(ctx).
			Select("id", "text", "normalized_key", "blocking_key").
			Where("id > ?", lastID).
			Order("id ASC").
			Limit(batchSize).
			Find(&batch).Error
		if err != nil {
			return updated, fmt.Errorf("failed to load aliases after id %d: %w", lastID, err)
		}
		if len(batch) == 0 {
			return updated, nil
		}
		lastID = batch[len(batch)-1].ID

		var changed int
		err = database.WithRetry(ctx, r.Retry, "rekey aliases", func() error {
			changed = 0
			return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				now := nowMillis()
				for _, a := range batch {
					key, block := keys(a.Text)
					if key == a.NormalizedKey && block == a.BlockingKey {
						continue
					}
					err := tx.Model(&models.Alias{}).Where("id = ?", a.ID).Updates(map[string]interface{}{
						"normalized_key": key,
						"blocking_key":   block,
						"updated_at":     now,
					}).Error
					if err != nil {
						return fmt.Errorf("failed to rekey alias %d: %w", a.ID, err)
					}
					changed++
				}
				return nil
			})
		})
		if err != nil {
			return updated, err
		}
		updated += changed
	}
}
