package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	apperrors "github.com/camden-git/supplierresolver/errors"
	"github.com/camden-git/supplierresolver/models"
)

// maxRedirectHops bounds the walk along redirect_to. Merges always point at a
// live root so real chains are short; the limit only guards corrupt data.
const maxRedirectHops = 64

// resolveLive is the "find" step of the supplier union-find: it follows
// redirect_to from id to the live supplier and points every visited
// non-root hop straight at that root.
func resolveLive(tx *gorm.DB, id uint) (uint, error) {
	var path []uint
	cur := id
	for hops := 0; ; hops++ {
		if hops > maxRedirectHops {
			return 0, fmt.Errorf("redirect chain from supplier %d exceeds %d hops", id, maxRedirectHops)
		}
		var s models.Supplier
		err := tx.Select("id", "redirect_to").First(&s, cur).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, apperrors.NewNotFoundError("supplier", cur)
			}
			return 0, fmt.Errorf("failed to load supplier %d while resolving %d: %w", cur, id, err)
		}
		if s.RedirectTo == nil {
			break
		}
		path = append(path, cur)
		cur = *s.RedirectTo
	}

	// the last hop already points at the root
	if len(path) > 1 {
		stale := path[:len(path)-1]
		err := tx.Model(&models.Supplier{}).
			Where("id IN ? AND redirect_to <> ?", stale, cur).
			Update("redirect_to", cur).Error
		if err != nil {
			return 0, fmt.Errorf("failed to compress redirect path for supplier %d: %w", id, err)
		}
	}
	return cur, nil
}
